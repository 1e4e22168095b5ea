package compose

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonathan/scout-agent/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSender() Sender {
	return Sender{Name: "佐藤", Company: "Example Partners", MeetingHost: "COO", BookingURL: "https://example.com/book"}
}

func TestInMailComposer_Compose(t *testing.T) {
	c, err := NewInMailComposer(testSender(), "", 2)
	require.NoError(t, err)

	result := &types.ServiceResult{
		Subject: "ご紹介",
		Intro:   "山田さんのご経歴に感銘を受けました。",
		Closing: "山田 太郎様のご活躍を期待しています。",
		Positions: []types.Position{
			{ID: "J1", Title: "法人営業", CompanyDesc: "急成長SaaS", Salary: "800万", AppealPoints: []string{"裁量大", "フルリモート"}},
			{ID: "J2", Title: "PdM", CompanyDesc: "AIスタートアップ"},
			{ID: "J3", Title: "CFO", CompanyDesc: "上場準備企業"},
		},
	}

	body, err := c.Compose("山田 太郎", result)
	require.NoError(t, err)

	assert.Contains(t, body, "{姓} 様")
	assert.Contains(t, body, "{姓}さんのご経歴")
	assert.Contains(t, body, "{姓}様のご活躍")
	assert.NotContains(t, body, "山田")
	assert.Contains(t, body, "◆ 急成長SaaS\n　法人営業（年収 800万）\n　裁量大\n　フルリモート")
	assert.Contains(t, body, "◆ AIスタートアップ\n　PdM")
	assert.NotContains(t, body, "CFO")
	assert.Contains(t, body, "https://example.com/book")
	assert.Contains(t, body, "佐藤 ｜Example Partners")
}

func TestInMailComposer_EmptyName(t *testing.T) {
	c, err := NewInMailComposer(testSender(), "", 0)
	require.NoError(t, err)

	body, err := c.Compose("", &types.ServiceResult{Intro: "intro", Closing: "closing"})
	require.NoError(t, err)
	assert.Contains(t, body, "intro")
	assert.Contains(t, body, "closing")
}

func TestNewInMailComposer_CustomTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "body.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("{{.Placeholder}}: {{.Subject}}"), 0o644))

	c, err := NewInMailComposer(testSender(), path, 0)
	require.NoError(t, err)

	body, err := c.Compose("A B", &types.ServiceResult{Subject: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "{姓}: hello", body)
}

func TestNewInMailComposer_Errors(t *testing.T) {
	_, err := NewInMailComposer(testSender(), filepath.Join(t.TempDir(), "missing.tmpl"), 0)
	var te *TemplateError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Error(), "not found")

	bad := filepath.Join(t.TempDir(), "bad.tmpl")
	require.NoError(t, os.WriteFile(bad, []byte("{{.Subject"), 0o644))
	_, err = NewInMailComposer(testSender(), bad, 0)
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Error(), "parse")
}
