package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/IanTerzo/Squads/internal/cookiestore"
)

const (
	blankPageURL                  = "about:blank"
	pageTargetType                = "page"
	profileDirectoryPermissions   = 0700
	errMessageEmptyStartURL       = "start url cannot be empty"
	errMessageCreateProfile       = "create browser profile directory"
	errMessageStartBrowser        = "start browser"
	errMessageListTargets         = "list browser targets"
	errMessageReadLocation        = "read browser location"
	errMessageNavigate            = "navigate browser"
	errMessageReadCookies         = "read browser cookies"
	logMessageBrowserStarted      = "browser started"
	logMessageBrowserTargetClosed = "browser window closed"
	logMessageBrowserStopped      = "browser stopped"
	logFieldBinaryPath            = "binary_path"
	logFieldProfileDirectory      = "profile_directory"
	logFieldTargetID              = "target_id"
)

var errEmptyStartURL = errors.New(errMessageEmptyStartURL)

// Config configures the Chrome instance driven by a Launcher.
type Config struct {
	BinaryPath       string
	ProfileDirectory string
	WindowWidth      int
	WindowHeight     int
	Headless         bool
	UserAgent        string
	Logger           *zap.Logger
}

// Launcher starts Chrome app windows.
type Launcher struct {
	binaryPath       string
	profileDirectory string
	windowWidth      int
	windowHeight     int
	headless         bool
	userAgent        string
	logger           *zap.Logger
}

// NewLauncher constructs a Launcher, filling unset configuration with defaults.
func NewLauncher(configuration Config) *Launcher {
	profileDirectory := strings.TrimSpace(configuration.ProfileDirectory)
	if profileDirectory == "" {
		profileDirectory = DefaultProfileDirectory
	}
	windowWidth := configuration.WindowWidth
	if windowWidth <= 0 {
		windowWidth = DefaultWindowWidth
	}
	windowHeight := configuration.WindowHeight
	if windowHeight <= 0 {
		windowHeight = DefaultWindowHeight
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Launcher{
		binaryPath:       resolveChromeBinaryPath(configuration),
		profileDirectory: profileDirectory,
		windowWidth:      windowWidth,
		windowHeight:     windowHeight,
		headless:         configuration.Headless,
		userAgent:        strings.TrimSpace(configuration.UserAgent),
		logger:           logger,
	}
}

// Launch starts Chrome with an app window showing startURL and attaches to that window.
// The returned Session owns the browser process; callers must Close it.
func (launcher *Launcher) Launch(ctx context.Context, startURL string) (*Session, error) {
	if strings.TrimSpace(startURL) == "" {
		return nil, errEmptyStartURL
	}

	profileDirectory, err := filepath.Abs(launcher.profileDirectory)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageCreateProfile, err)
	}
	if err := os.MkdirAll(profileDirectory, profileDirectoryPermissions); err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageCreateProfile, err)
	}

	allocatorContext, cancelAllocator := chromedp.NewExecAllocator(ctx, launcher.allocatorOptions(startURL, profileDirectory)...)
	firstContext, cancelFirst := chromedp.NewContext(allocatorContext)

	// The first Run starts the process and attaches to the first page target.
	if err := chromedp.Run(firstContext); err != nil {
		cancelFirst()
		cancelAllocator()
		return nil, fmt.Errorf("%s: %w", errMessageStartBrowser, err)
	}

	targets, err := chromedp.Targets(firstContext)
	if err != nil {
		cancelFirst()
		cancelAllocator()
		return nil, fmt.Errorf("%s: %w", errMessageListTargets, err)
	}

	session := &Session{
		closed:          make(chan struct{}),
		cancelAllocator: cancelAllocator,
		cancelBrowser:   cancelFirst,
		logger:          launcher.logger,
	}

	tabContext := firstContext
	attachedTargetID := chromedp.FromContext(firstContext).Target.TargetID
	appTargetID, found := SelectAppTarget(targets, startURL)
	if found && appTargetID != attachedTargetID {
		appContext, cancelApp := chromedp.NewContext(firstContext, chromedp.WithTargetID(appTargetID))
		if err := chromedp.Run(appContext); err != nil {
			cancelApp()
			session.Close()
			return nil, fmt.Errorf("%s: %w", errMessageStartBrowser, err)
		}
		tabContext = appContext
		session.cancelTab = cancelApp
		attachedTargetID = appTargetID
	} else if !found {
		if err := chromedp.Run(firstContext, chromedp.Navigate(startURL)); err != nil {
			session.Close()
			return nil, fmt.Errorf("%s: %w", errMessageNavigate, err)
		}
	}

	session.tabContext = tabContext
	session.targetID = attachedTargetID
	session.watchTarget(firstContext)

	launcher.logger.Info(
		logMessageBrowserStarted,
		zap.String(logFieldBinaryPath, launcher.binaryPath),
		zap.String(logFieldProfileDirectory, profileDirectory),
		zap.String(logFieldTargetID, string(attachedTargetID)),
	)
	return session, nil
}

func (launcher *Launcher) allocatorOptions(startURL string, profileDirectory string) []chromedp.ExecAllocatorOption {
	options := []chromedp.ExecAllocatorOption{
		chromedp.ExecPath(launcher.binaryPath),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserDataDir(profileDirectory),
		chromedp.WindowSize(launcher.windowWidth, launcher.windowHeight),
		chromedp.Flag(chromeFlagApp, startURL),
		chromedp.Flag(chromeFlagDisableInfobars, true),
		chromedp.Flag(chromeFlagEnableAutomation, false),
		chromedp.Flag(chromeFlagPasswordStore, chromeFlagPasswordStoreBasic),
	}
	if launcher.headless {
		options = append(options, chromedp.Headless, chromedp.DisableGPU)
	}
	if launcher.userAgent != "" {
		options = append(options, chromedp.UserAgent(launcher.userAgent))
	}
	return options
}

// SelectAppTarget picks the page target showing the app window.
// Chrome also opens a blank tab at start-up; that tab is skipped.
func SelectAppTarget(targets []*target.Info, startURL string) (target.ID, bool) {
	var fallback target.ID
	for _, targetInfo := range targets {
		if targetInfo == nil || targetInfo.Type != pageTargetType {
			continue
		}
		if targetInfo.URL == startURL {
			return targetInfo.TargetID, true
		}
		if fallback == "" && targetInfo.URL != blankPageURL && targetInfo.URL != "" {
			fallback = targetInfo.TargetID
		}
	}
	if fallback != "" {
		return fallback, true
	}
	return "", false
}

// Session is a running Chrome instance attached to its app window.
type Session struct {
	tabContext      context.Context
	targetID        target.ID
	closed          chan struct{}
	closeOnce       sync.Once
	cancelTab       context.CancelFunc
	cancelBrowser   context.CancelFunc
	cancelAllocator context.CancelFunc
	logger          *zap.Logger
}

// Location returns the address currently shown in the app window.
func (session *Session) Location(ctx context.Context) (string, error) {
	var location string
	if err := session.run(ctx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("%s: %w", errMessageReadLocation, err)
	}
	return location, nil
}

// Navigate loads the URL in the app window.
func (session *Session) Navigate(ctx context.Context, targetURL string) error {
	if err := session.run(ctx, chromedp.Navigate(targetURL)); err != nil {
		return fmt.Errorf("%s: %w", errMessageNavigate, err)
	}
	return nil
}

// Cookies returns the browser cookies visible to the given URLs.
func (session *Session) Cookies(ctx context.Context, urls []string) ([]cookiestore.Cookie, error) {
	var browserCookies []*network.Cookie
	action := chromedp.ActionFunc(func(actionContext context.Context) error {
		fetched, err := network.GetCookies().WithUrls(urls).Do(actionContext)
		if err != nil {
			return err
		}
		browserCookies = fetched
		return nil
	})
	if err := session.run(ctx, action); err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageReadCookies, err)
	}

	cookies := make([]cookiestore.Cookie, 0, len(browserCookies))
	for _, browserCookie := range browserCookies {
		if browserCookie == nil {
			continue
		}
		cookies = append(cookies, cookiestore.Cookie{
			Name:   browserCookie.Name,
			Value:  browserCookie.Value,
			Domain: browserCookie.Domain,
		})
	}
	return cookies, nil
}

// Closed is closed once the app window or the browser process goes away.
func (session *Session) Closed() <-chan struct{} {
	return session.closed
}

// Close stops the browser process and waits for it to exit.
func (session *Session) Close() error {
	session.markClosed()
	if session.cancelTab != nil {
		session.cancelTab()
	}
	if session.cancelBrowser != nil {
		session.cancelBrowser()
	}
	if session.cancelAllocator != nil {
		session.cancelAllocator()
	}
	session.logger.Debug(logMessageBrowserStopped)
	return nil
}

// run executes actions on the app window while honouring both the caller's
// context and the lifetime of the browser.
func (session *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runContext, cancel := context.WithCancel(session.tabContext)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runContext, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (session *Session) watchTarget(browserContext context.Context) {
	chromedp.ListenBrowser(browserContext, func(event any) {
		destroyed, ok := event.(*target.EventTargetDestroyed)
		if !ok || destroyed.TargetID != session.targetID {
			return
		}
		session.logger.Info(logMessageBrowserTargetClosed, zap.String(logFieldTargetID, string(destroyed.TargetID)))
		session.markClosed()
	})
	go func() {
		<-browserContext.Done()
		session.markClosed()
	}()
}

func (session *Session) markClosed() {
	session.closeOnce.Do(func() {
		close(session.closed)
	})
}
