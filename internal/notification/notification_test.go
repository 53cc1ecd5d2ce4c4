package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harvestloop/harvestloop/internal/apperrors"
)

func TestSMSNotifierPostsToTwilio(t *testing.T) {
	var gotPath, gotTo, gotBody, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		gotTo = r.PostForm.Get("To")
		gotBody = r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer srv.Close()

	n := NewSMSNotifier(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", From: "+15550000000", BaseURL: srv.URL})
	err := n.Send(context.Background(), Message{Kind: KindOTP, Channel: ChannelSMS, Destination: "+919876543210", Body: "Your HarvestLoop code is 123456"})
	require.NoError(t, err)
	require.Equal(t, "/2010-04-01/Accounts/AC1/Messages.json", gotPath)
	require.Equal(t, "AC1", gotUser)
	require.Equal(t, "+919876543210", gotTo)
	require.Contains(t, gotBody, "123456")
}

func TestSMSNotifierProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number."}`))
	}))
	defer srv.Close()

	n := NewSMSNotifier(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", From: "+1", BaseURL: srv.URL})
	err := n.Send(context.Background(), Message{Destination: "+1", Body: "x"})
	require.ErrorIs(t, err, apperrors.ErrTransportFailure)
	require.Contains(t, err.Error(), "21211")
}

func TestSMSNotifierTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	n := NewSMSNotifier(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", From: "+1", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	err := n.Send(context.Background(), Message{Destination: "+1", Body: "x"})
	require.ErrorIs(t, err, apperrors.ErrTransportFailure)
	require.True(t, apperrors.Retryable(err))
}

func TestEmailBuildMessage(t *testing.T) {
	n := NewEmailNotifier(SMTPConfig{Host: "smtp.example.com", From: "noreply@harvestloop.test", FromName: "HarvestLoop"})
	raw := string(n.buildMessage(Message{Destination: "farmer@test.com", Subject: "Your login code", Body: "code 123456\nexpires soon"}))

	require.Contains(t, raw, "To: farmer@test.com\r\n")
	require.Contains(t, raw, "Subject: Your login code\r\n")
	require.Contains(t, raw, "HarvestLoop <noreply@harvestloop.test>")
	require.Contains(t, raw, "text/plain")
	require.Contains(t, raw, "code 123456\r\nexpires soon")

	html := string(n.buildMessage(Message{Destination: "a@b.c", Subject: "s", Body: "plain", HTML: "<b>123456</b>"}))
	require.Contains(t, html, "text/html")
	require.NotContains(t, html, "plain")
}

func TestEmailAuthUsesRefreshedAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		require.Equal(t, "r-token", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"ya29.access","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	n := NewEmailNotifier(SMTPConfig{
		Host:         "smtp.gmail.com",
		Username:     "mailer@harvestloop.test",
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: "r-token",
		TokenURL:     srv.URL,
	})
	a, err := n.auth()
	require.NoError(t, err)

	mech, initial, err := a.Start(&smtp.ServerInfo{Name: "smtp.gmail.com", TLS: true})
	require.NoError(t, err)
	require.Equal(t, "XOAUTH2", mech)
	require.Equal(t, "user=mailer@harvestloop.test\x01auth=Bearer ya29.access\x01\x01", string(initial))
}

func TestEmailAuthRefreshFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	n := NewEmailNotifier(SMTPConfig{Host: "smtp.gmail.com", Username: "u", ClientID: "c", ClientSecret: "s", RefreshToken: "bad", TokenURL: srv.URL})
	err := n.Send(context.Background(), Message{Destination: "a@b.c"})
	require.ErrorIs(t, err, apperrors.ErrTransportFailure)
	require.True(t, strings.Contains(err.Error(), "refresh"))
}

func TestLoggerNotifierNeverFails(t *testing.T) {
	require.NoError(t, NewLoggerNotifier(nil).Send(context.Background(), Message{Kind: KindOTP, Destination: "+1"}))
}
