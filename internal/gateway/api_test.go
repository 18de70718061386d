// ABOUTME: HTTP API tests for user, thread and message endpoints
// ABOUTME: Exercises status codes and the HTTP-to-WebSocket broadcast bridge

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/thread-relay/internal/store"
	"github.com/2389/thread-relay/internal/wire"
)

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()

	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAPI_CreateUser(t *testing.T) {
	ts := newTestServer(t, store.NewMockStore())

	resp := postJSON(t, ts, "/api/users", CreateUserRequest{Name: "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	user := decodeBody[UserResponse](t, resp)
	assert.EqualValues(t, 1, user.ID)
	assert.Equal(t, "alice", user.Name)
}

func TestAPI_CreateUser_Duplicate(t *testing.T) {
	ts := newTestServer(t, store.NewMockStore())

	resp := postJSON(t, ts, "/api/users", CreateUserRequest{Name: "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, ts, "/api/users", CreateUserRequest{Name: "alice"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CreateUser_MissingName(t *testing.T) {
	ts := newTestServer(t, store.NewMockStore())

	resp := postJSON(t, ts, "/api/users", CreateUserRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CreateUser_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, store.NewMockStore())

	resp := getJSON(t, ts, "/api/users")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAPI_GetUser(t *testing.T) {
	ts := newTestServer(t, store.NewMockStore())

	postJSON(t, ts, "/api/users", CreateUserRequest{Name: "alice"})

	resp := getJSON(t, ts, "/api/users/1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := decodeBody[UserResponse](t, resp)
	assert.Equal(t, "alice", user.Name)
}

func TestAPI_GetUser_NotFound(t *testing.T) {
	ts := newTestServer(t, store.NewMockStore())

	resp := getJSON(t, ts, "/api/users/42")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_GetUser_InvalidID(t *testing.T) {
	ts := newTestServer(t, store.NewMockStore())

	resp := getJSON(t, ts, "/api/users/abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CreateThread(t *testing.T) {
	ts := newTestServer(t, store.NewMockStore())

	postJSON(t, ts, "/api/users", CreateUserRequest{Name: "alice"})

	resp := postJSON(t, ts, "/api/threads", CreateThreadRequest{Title: "planning", UserID: 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	thread := decodeBody[ThreadResponse](t, resp)
	assert.EqualValues(t, 1, thread.ID)
	assert.Equal(t, "planning", thread.Title)
	assert.EqualValues(t, 1, thread.UserID)
	assert.NotEmpty(t, thread.CreatedAt)
}

func TestAPI_CreateThread_UserNotFound(t *testing.T) {
	ts := newTestServer(t, store.NewMockStore())

	resp := postJSON(t, ts, "/api/threads", CreateThreadRequest{Title: "planning", UserID: 99})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_CreateThread_MissingFields(t *testing.T) {
	ts := newTestServer(t, store.NewMockStore())

	resp := postJSON(t, ts, "/api/threads", CreateThreadRequest{Title: "no user"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ListUserThreads(t *testing.T) {
	ts := newTestServer(t, store.NewMockStore())

	postJSON(t, ts, "/api/users", CreateUserRequest{Name: "alice"})
	postJSON(t, ts, "/api/threads", CreateThreadRequest{Title: "one", UserID: 1})
	postJSON(t, ts, "/api/threads", CreateThreadRequest{Title: "two", UserID: 1})

	resp := getJSON(t, ts, "/api/users/1/threads")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	threads := decodeBody[[]ThreadResponse](t, resp)
	require.Len(t, threads, 2)
	assert.Equal(t, "one", threads[0].Title)
	assert.Equal(t, "two", threads[1].Title)
}

func TestAPI_GetThread_NotFound(t *testing.T) {
	ts := newTestServer(t, store.NewMockStore())

	resp := getJSON(t, ts, "/api/threads/42")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_PostMessageAndList(t *testing.T) {
	st := store.NewMockStore()
	ts := newTestServer(t, st)
	seedThread(t, st)

	resp := postJSON(t, ts, "/api/threads/1/messages", CreateMessageRequest{Content: "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	posted := decodeBody[wire.MessagePayload](t, resp)
	assert.Equal(t, store.RoleUser, posted.Role)
	assert.Equal(t, "hello", posted.Content)
	assert.NotZero(t, posted.ID)

	resp = getJSON(t, ts, "/api/threads/1/messages")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listed := decodeBody[ThreadMessagesResponse](t, resp)
	assert.EqualValues(t, 1, listed.ThreadID)
	require.Len(t, listed.Messages, 2)
	assert.Equal(t, store.RoleUser, listed.Messages[0].Role)
	assert.Equal(t, store.RoleAssistant, listed.Messages[1].Role)
}

func TestAPI_PostMessage_ThreadNotFound(t *testing.T) {
	ts := newTestServer(t, store.NewMockStore())

	resp := postJSON(t, ts, "/api/threads/99/messages", CreateMessageRequest{Content: "hello"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_PostMessage_MissingContent(t *testing.T) {
	st := store.NewMockStore()
	ts := newTestServer(t, st)
	seedThread(t, st)

	resp := postJSON(t, ts, "/api/threads/1/messages", CreateMessageRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_PostMessageReachesSubscribers(t *testing.T) {
	st := store.NewMockStore()
	ts := newTestServer(t, st)
	seedThread(t, st)

	conn := dialThread(t, ts, "1")

	resp := postJSON(t, ts, "/api/threads/1/messages", CreateMessageRequest{Content: "via http"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	userMsg := readMessagePayload(t, conn)
	assert.Equal(t, "via http", userMsg.Content)
	assert.Equal(t, store.RoleUser, userMsg.Role)

	botMsg := readMessagePayload(t, conn)
	assert.Equal(t, store.RoleAssistant, botMsg.Role)
}

func TestAPI_Health(t *testing.T) {
	ts := newTestServer(t, store.NewMockStore())

	resp := getJSON(t, ts, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_Health_StoreDown(t *testing.T) {
	st := store.NewMockStore()
	st.SetPingErr(errors.New("store offline"))
	ts := newTestServer(t, st)

	resp := getJSON(t, ts, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
