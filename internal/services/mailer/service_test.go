package mailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
)

func testConfig() *common.MailConfig {
	return &common.MailConfig{
		Host:     "smtp.example.test",
		Port:     587,
		From:     "reports@example.test",
		FromName: "CAR Extract",
	}
}

func TestCompose_WithAttachment(t *testing.T) {
	svc := NewService(testConfig(), arbor.NewLogger())

	csv := []byte("CAR No,Raised Date\n\"CAR-1\",\"01/02/2026\"")
	msg, err := svc.Compose([]string{"qa@example.test", "lead@example.test"}, "CAR export", "Attached.", []Attachment{
		{Filename: "HAESL_CAR_Export_2026-03-05.csv", ContentType: "text/csv", Content: csv},
	})
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(msg))
	require.NoError(t, err)

	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "CAR export", subject)

	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 2)
	assert.Equal(t, "lead@example.test", to[1].Address)

	var body string
	var attachment []byte
	var filename string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		data, err := io.ReadAll(p.Body)
		require.NoError(t, err)

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			body = string(data)
		case *mail.AttachmentHeader:
			filename, _ = h.Filename()
			attachment = data
		}
	}

	assert.Equal(t, "Attached.", strings.TrimSpace(body))
	assert.Equal(t, "HAESL_CAR_Export_2026-03-05.csv", filename)
	assert.Equal(t, csv, attachment)
}

func TestSend(t *testing.T) {
	svc := NewService(testConfig(), arbor.NewLogger())

	var gotFrom string
	var gotTo []string
	svc.deliver = func(ctx context.Context, from string, to []string, msg []byte) error {
		gotFrom = from
		gotTo = to
		assert.Contains(t, string(msg), "Subject: Morning run")
		return nil
	}

	require.NoError(t, svc.Send(context.Background(), []string{"qa@example.test"}, "Morning run", "done", nil))
	assert.Equal(t, "reports@example.test", gotFrom)
	assert.Equal(t, []string{"qa@example.test"}, gotTo)

	svc.deliver = func(context.Context, string, []string, []byte) error { return errors.New("421 try later") }
	assert.Error(t, svc.Send(context.Background(), []string{"qa@example.test"}, "Morning run", "done", nil))
	assert.Error(t, svc.Send(context.Background(), nil, "Morning run", "done", nil))
}

func TestSend_NotConfigured(t *testing.T) {
	svc := NewService(&common.MailConfig{}, arbor.NewLogger())
	assert.False(t, svc.IsConfigured())
	assert.ErrorIs(t, svc.Send(context.Background(), []string{"qa@example.test"}, "s", "b", nil), ErrNotConfigured)
}
