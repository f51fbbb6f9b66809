package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"

	"github.com/IanTerzo/Squads/internal/authflow"
	"github.com/IanTerzo/Squads/internal/authorize"
	"github.com/IanTerzo/Squads/internal/cookiestore"
	"github.com/IanTerzo/Squads/internal/server"
)

const (
	stubCode          = "ABC123"
	concurrentCallers = 4
	flightWaitTimeout = 2 * time.Second
)

type interactiveStub struct {
	calls   atomic.Int32
	release chan struct{}
	result  authflow.Result
	err     error
}

func (stub *interactiveStub) Authorize(ctx context.Context) (authflow.Result, error) {
	stub.calls.Add(1)
	if stub.release != nil {
		<-stub.release
	}
	return stub.result, stub.err
}

type silentStub struct {
	authorizationCode authorize.AuthorizationCode
	err               error
}

func (stub silentStub) Authorize(ctx context.Context) (authorize.AuthorizationCode, error) {
	return stub.authorizationCode, stub.err
}

func newTestServer(t *testing.T, configuration server.RouterConfig) *httptest.Server {
	t.Helper()
	router, err := server.NewRouter(configuration)
	if err != nil {
		t.Fatalf("create router: %v", err)
	}
	testServer := httptest.NewServer(router)
	t.Cleanup(testServer.Close)
	return testServer
}

func postJSON(t *testing.T, targetURL string, requestID string) (*http.Response, server.AuthorizationPayload) {
	t.Helper()
	request, err := http.NewRequest(http.MethodPost, targetURL, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if requestID != "" {
		request.Header.Set(server.RequestIDHeader, requestID)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("post %s: %v", targetURL, err)
	}
	defer response.Body.Close()

	var payload server.AuthorizationPayload
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return response, payload
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	testServer := newTestServer(t, server.RouterConfig{})
	response, err := http.Get(testServer.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer response.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if response.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health response %d %v", response.StatusCode, body)
	}
	if response.Header.Get(server.RequestIDHeader) == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestAuthorizeInteractive(t *testing.T) {
	t.Parallel()

	stub := &interactiveStub{result: authflow.Result{
		AuthorizationCode: authorize.AuthorizationCode{Code: stubCode, CodeVerifier: authorize.DefaultCodeVerifier},
		Attempts:          1,
		Cookies:           []cookiestore.Cookie{{Name: cookiestore.PersistentSessionCookieName, Value: "p", Domain: "login.microsoftonline.com"}},
	}}
	testServer := newTestServer(t, server.RouterConfig{Interactive: stub})

	response, payload := postJSON(t, testServer.URL+"/v1/authorize", "caller-supplied-id")
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", response.StatusCode)
	}
	if response.Header.Get(server.RequestIDHeader) != "caller-supplied-id" {
		t.Fatalf("expected request id to be echoed, got %q", response.Header.Get(server.RequestIDHeader))
	}
	expected := server.AuthorizationPayload{
		AuthorizationCodes: stub.result.AuthorizationCode,
		Cookies:            stub.result.Cookies,
		Success:            true,
	}
	if diff := pretty.Compare(expected, payload); diff != "" {
		t.Fatalf("payload -want/+got:\n%s", diff)
	}
}

func TestAuthorizeInteractiveSharesOneRun(t *testing.T) {
	t.Parallel()

	stub := &interactiveStub{
		release: make(chan struct{}),
		result:  authflow.Result{AuthorizationCode: authorize.AuthorizationCode{Code: stubCode, CodeVerifier: "v"}, Attempts: 1},
	}
	testServer := newTestServer(t, server.RouterConfig{Interactive: stub})

	var waitGroup sync.WaitGroup
	payloads := make([]server.AuthorizationPayload, concurrentCallers)
	callErrors := make([]error, concurrentCallers)
	for index := 0; index < concurrentCallers; index++ {
		index := index
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			response, err := http.Post(testServer.URL+"/v1/authorize", "application/json", nil)
			if err != nil {
				callErrors[index] = err
				return
			}
			defer response.Body.Close()
			callErrors[index] = json.NewDecoder(response.Body).Decode(&payloads[index])
		}()
	}

	deadline := time.Now().Add(flightWaitTimeout)
	for stub.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Give the remaining callers time to join the running flight.
	time.Sleep(100 * time.Millisecond)
	close(stub.release)
	waitGroup.Wait()

	if calls := stub.calls.Load(); calls != 1 {
		t.Fatalf("expected a single browser run, got %d", calls)
	}
	for index, payload := range payloads {
		if callErrors[index] != nil {
			t.Fatalf("caller %d: %v", index, callErrors[index])
		}
		if !payload.Success || payload.AuthorizationCodes.Code != stubCode {
			t.Fatalf("caller %d got %+v", index, payload)
		}
		if payload.Cookies == nil {
			t.Fatalf("caller %d: cookies must encode as an empty list", index)
		}
	}
}

func TestAuthorizeFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name           string
		configuration  server.RouterConfig
		path           string
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "browser closed",
			configuration:  server.RouterConfig{Interactive: &interactiveStub{err: authflow.ErrBrowserClosed}},
			path:           "/v1/authorize",
			expectedStatus: http.StatusBadGateway,
			expectedError:  authflow.ErrBrowserClosed.Error(),
		},
		{
			name:           "silent failure",
			configuration:  server.RouterConfig{Silent: silentStub{err: errors.New("ESTSAUTHLIGHT is empty")}},
			path:           "/v1/authorize/silent",
			expectedStatus: http.StatusBadGateway,
			expectedError:  "ESTSAUTHLIGHT is empty",
		},
		{
			name:           "silent not configured",
			configuration:  server.RouterConfig{Interactive: &interactiveStub{}},
			path:           "/v1/authorize/silent",
			expectedStatus: http.StatusNotImplemented,
			expectedError:  "silent reauthorization is not configured",
		},
		{
			name:           "interactive not configured",
			configuration:  server.RouterConfig{},
			path:           "/v1/authorize",
			expectedStatus: http.StatusNotImplemented,
			expectedError:  "interactive sign-in is not configured",
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			testServer := newTestServer(t, testCase.configuration)
			response, payload := postJSON(t, testServer.URL+testCase.path, "")
			if response.StatusCode != testCase.expectedStatus {
				t.Fatalf("expected status %d, got %d", testCase.expectedStatus, response.StatusCode)
			}
			if payload.Success || payload.Error != testCase.expectedError {
				t.Fatalf("unexpected payload %+v", payload)
			}
		})
	}
}

func TestAuthorizeSilent(t *testing.T) {
	t.Parallel()

	stub := silentStub{authorizationCode: authorize.AuthorizationCode{Code: stubCode, CodeVerifier: "generated"}}
	testServer := newTestServer(t, server.RouterConfig{Silent: stub})

	response, payload := postJSON(t, testServer.URL+"/v1/authorize/silent", "")
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", response.StatusCode)
	}
	expected := server.AuthorizationPayload{AuthorizationCodes: stub.authorizationCode, Cookies: []cookiestore.Cookie{}, Success: true}
	if diff := pretty.Compare(expected, payload); diff != "" {
		t.Fatalf("payload -want/+got:\n%s", diff)
	}
}

type blockingStub struct {
	started  chan struct{}
	finished chan error
}

func (stub *blockingStub) Authorize(ctx context.Context) (authflow.Result, error) {
	close(stub.started)
	<-ctx.Done()
	stub.finished <- ctx.Err()
	return authflow.Result{}, ctx.Err()
}

func TestShutdownCancelsPendingFlow(t *testing.T) {
	t.Parallel()

	baseContext, cancelFlows := context.WithCancel(context.Background())
	defer cancelFlows()

	stub := &blockingStub{started: make(chan struct{}), finished: make(chan error, 1)}
	router, err := server.NewRouter(server.RouterConfig{BaseContext: baseContext, Interactive: stub})
	if err != nil {
		t.Fatalf("create router: %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	httpServer := &http.Server{Handler: router}
	httpServer.RegisterOnShutdown(cancelFlows)
	go func() {
		_ = httpServer.Serve(listener)
	}()

	type callOutcome struct {
		statusCode int
		payload    server.AuthorizationPayload
		err        error
	}
	outcomes := make(chan callOutcome, 1)
	go func() {
		response, err := http.Post("http://"+listener.Addr().String()+"/v1/authorize", "application/json", nil)
		if err != nil {
			outcomes <- callOutcome{err: err}
			return
		}
		defer response.Body.Close()
		var payload server.AuthorizationPayload
		err = json.NewDecoder(response.Body).Decode(&payload)
		outcomes <- callOutcome{statusCode: response.StatusCode, payload: payload, err: err}
	}()

	select {
	case <-stub.started:
	case <-time.After(flightWaitTimeout):
		t.Fatalf("sign-in flow did not start")
	}

	shutdownContext, cancelShutdown := context.WithTimeout(context.Background(), flightWaitTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownContext); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case flowErr := <-stub.finished:
		if !errors.Is(flowErr, context.Canceled) {
			t.Fatalf("expected the flow context to be cancelled, got %v", flowErr)
		}
	case <-time.After(flightWaitTimeout):
		t.Fatalf("flow context was not cancelled by shutdown")
	}

	outcome := <-outcomes
	if outcome.err != nil {
		t.Fatalf("pending request: %v", outcome.err)
	}
	if outcome.statusCode != http.StatusServiceUnavailable || outcome.payload.Success {
		t.Fatalf("unexpected response %d %+v", outcome.statusCode, outcome.payload)
	}
}
