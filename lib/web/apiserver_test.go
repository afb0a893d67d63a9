/*
 * Keyserver
 * Copyright (C) 2026  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/keyserver/lib/fixtures"
	"github.com/gravitational/keyserver/lib/key"
	"github.com/gravitational/keyserver/lib/mailer"
	"github.com/gravitational/keyserver/lib/storage"
	"github.com/gravitational/keyserver/lib/types"
	"github.com/gravitational/keyserver/lib/userid"
)

// captureMailer records outgoing emails instead of delivering them.
type captureMailer struct {
	mu   sync.Mutex
	sent []mailer.Email
}

func (m *captureMailer) Send(ctx context.Context, email mailer.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, email)
	return nil
}

func (m *captureMailer) last(t *testing.T) mailer.Email {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type testServer struct {
	srv    *httptest.Server
	mailer *captureMailer
	store  storage.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := storage.NewMemory()
	capture := &captureMailer{}
	userIDs, err := userid.New(userid.Config{Store: store})
	require.NoError(t, err)
	keys, err := key.New(key.Config{
		Store:   store,
		UserIDs: userIDs,
		Mailer:  capture,
	})
	require.NoError(t, err)
	handler, err := NewHandler(Config{
		Keys:  keys,
		Store: store,
		CSP:   true,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, mailer: capture, store: store}
}

func (ts *testServer) submitJSON(t *testing.T, armored string) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]string{"publicKeyArmored": armored})
	require.NoError(t, err)
	resp, err := http.Post(ts.srv.URL+"/api/v1/key", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

// followChallenge exercises the link from the last captured email.
func (ts *testServer) followChallenge(t *testing.T) *http.Response {
	t.Helper()
	email := ts.mailer.last(t)
	resp, err := http.Get(email.VerifyURL())
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(out)
}

func TestSubmitAndVerify(t *testing.T) {
	ts := newTestServer(t)
	k, err := fixtures.GenerateKey(fixtures.UserID{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)

	resp := ts.submitJSON(t, k.Armored)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "default-src 'self'; object-src 'none'; frame-ancestors 'none'",
		resp.Header.Get("Content-Security-Policy"))
	readBody(t, resp)

	email := ts.mailer.last(t)
	require.Equal(t, mailer.TemplateVerifyKey, email.Template)
	require.Equal(t, "alice@example.com", email.Recipient)
	require.Equal(t, ts.srv.URL, email.Origin)

	// Pending keys are not visible.
	resp, err = http.Get(ts.srv.URL + "/api/v1/key?email=alice@example.com")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	readBody(t, resp)

	resp = ts.followChallenge(t)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	require.Contains(t, readBody(t, resp), "alice@example.com")

	resp, err = http.Get(ts.srv.URL + "/api/v1/key?email=alice@example.com")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var record types.KeyRecord
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &record))
	require.Equal(t, k.KeyID, record.KeyID)
	require.Equal(t, k.Fingerprint, record.Fingerprint)
	require.Equal(t, k.Armored, record.Armored)
	require.Len(t, record.UserIDs, 1)
	require.True(t, record.UserIDs[0].Verified)
}

func TestSubmitRejectsGarbage(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.submitJSON(t, "not a key")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	readBody(t, resp)

	resp, err := http.Post(ts.srv.URL+"/api/v1/key", "application/json",
		strings.NewReader("{broken"))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	readBody(t, resp)
	require.Zero(t, ts.mailer.count())
}

func TestVerifyUnknownNonce(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/api/v1/key?op=verify&keyId=0123456789ABCDEF&nonce=bogus")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	readBody(t, resp)
}

func TestUnknownOp(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/api/v1/key?op=frobnicate")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	readBody(t, resp)
}

func TestRemoveFlow(t *testing.T) {
	ts := newTestServer(t)
	k, err := fixtures.GenerateKey(fixtures.UserID{Name: "Bob", Email: "bob@example.com"})
	require.NoError(t, err)
	readBody(t, ts.submitJSON(t, k.Armored))
	readBody(t, ts.followChallenge(t))

	req, err := http.NewRequest(http.MethodDelete, ts.srv.URL+"/api/v1/key?keyId="+k.KeyID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	readBody(t, resp)

	email := ts.mailer.last(t)
	require.Equal(t, mailer.TemplateVerifyRemove, email.Template)

	resp = ts.followChallenge(t)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, readBody(t, resp), "bob@example.com")

	resp, err = http.Get(ts.srv.URL + "/api/v1/key?keyId=" + k.KeyID)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	readBody(t, resp)
}

func TestRemoveUnknownKey(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodDelete, ts.srv.URL+"/api/v1/key?keyId=0123456789ABCDEF", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	readBody(t, resp)
}

func TestHKPAdd(t *testing.T) {
	ts := newTestServer(t)
	k, err := fixtures.GenerateKey(fixtures.UserID{Name: "Carol", Email: "carol@example.com"})
	require.NoError(t, err)

	resp, err := http.PostForm(ts.srv.URL+"/pks/add", url.Values{"keytext": {k.Armored}})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	readBody(t, resp)

	readBody(t, ts.followChallenge(t))

	// A published key is reported as unchanged, not as a conflict.
	resp, err = http.PostForm(ts.srv.URL+"/pks/add", url.Values{"keytext": {k.Armored}})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotModified, resp.StatusCode)
	readBody(t, resp)

	resp, err = http.PostForm(ts.srv.URL+"/pks/add", url.Values{})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	readBody(t, resp)
}

func TestHKPLookup(t *testing.T) {
	ts := newTestServer(t)
	k, err := fixtures.GenerateKey(fixtures.UserID{Name: "Dave", Email: "dave@example.com"})
	require.NoError(t, err)
	readBody(t, ts.submitJSON(t, k.Armored))
	readBody(t, ts.followChallenge(t))

	for _, search := range []string{
		"dave@example.com",
		"0x" + k.Fingerprint,
		"0x" + k.KeyID,
		"0x" + k.KeyID[8:],
	} {
		resp, err := http.Get(ts.srv.URL + "/pks/lookup?op=get&search=" + url.QueryEscape(search))
		require.NoError(t, err, search)
		require.Equal(t, http.StatusOK, resp.StatusCode, search)
		require.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
		require.Equal(t, k.Armored, readBody(t, resp), search)
	}

	resp, err := http.Get(ts.srv.URL + "/pks/lookup?op=index&search=dave@example.com")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	index := readBody(t, resp)
	require.True(t, strings.HasPrefix(index, "info:1:1\n"))
	require.Contains(t, index, "pub:"+k.Fingerprint+":22:")
	require.Contains(t, index, "uid:Dave <dave@example.com>:")

	resp, err = http.Get(ts.srv.URL + "/pks/lookup?op=get&search=nobody@example.com")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	readBody(t, resp)

	resp, err = http.Get(ts.srv.URL + "/pks/lookup?op=get&search=0xZZ")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	readBody(t, resp)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, readBody(t, resp), "ok")
}

func TestLocaleSelection(t *testing.T) {
	ts := newTestServer(t)
	k, err := fixtures.GenerateKey(fixtures.UserID{Name: "Erik", Email: "erik@example.com"})
	require.NoError(t, err)

	body, err := json.Marshal(map[string]string{"publicKeyArmored": k.Armored})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/v1/key", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	readBody(t, resp)

	require.Equal(t, "de", ts.mailer.last(t).Locale)
}
