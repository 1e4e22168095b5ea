package compose

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/jonathan/scout-agent/internal/types"
)

// DefaultNoteLimit is the friend-request note cap in runes.
const DefaultNoteLimit = 300

// roleRules map title/summary keywords to a short role label, first match wins
var roleRules = []struct {
	re    *regexp.Regexp
	label string
}{
	{regexp.MustCompile(`(?i:インサイド.?セールス|Inside\s*Sales)|\bIS\b`), "インサイドセールス"},
	{regexp.MustCompile(`テクニカル.?PdM|\bPdM\b`), "テクニカルPdM"},
	{regexp.MustCompile(`(?i:プロダクトマネージャ|Product\s*Manager)`), "PdM"},
	{regexp.MustCompile(`(?i:事業開発|Biz\s*Dev)|\bBD\b`), "事業開発"},
	{regexp.MustCompile(`(?i:カスタマー.?サクセス|Customer\s*Success)|\bCS\b`), "カスタマーサクセス"},
	{regexp.MustCompile(`(?i:マーケティング|Marketing|Growth)`), "マーケティング"},
	{regexp.MustCompile(`(?i:セールス|営業|\bSales\b)`), "セールス"},
	{regexp.MustCompile(`(?i:ソフトウェア|エンジニア|バックエンド|フロントエンド|フルスタック|Engineer)|\bSWE\b`), "ソフトウェアエンジニア"},
	{regexp.MustCompile(`(?i:データサイエンティスト|Data\s*Scientist)`), "データサイエンティスト"},
	{regexp.MustCompile(`プロジェクトマネージャ|\bPM\b`), "プロジェクトマネージャ"},
	{regexp.MustCompile(`プロダクトオーナー|\bPO\b`), "プロダクトオーナー"},
}

var (
	bracketRE     = regexp.MustCompile(`【.*?】|（.*?）|\(.*?\)|「.*?」`)
	separatorRE   = regexp.MustCompile(`[/｜|].*$`)
	spacesRE      = regexp.MustCompile(`\s+`)
	manyNewlines  = regexp.MustCompile(`\n{3,}`)
	blankBeforeJb = regexp.MustCompile(`\n\s*\n(◆)`)
)

// DefaultRole is used when no label can be derived from a title.
const DefaultRole = "コアメンバー"

// NormalizeSalary removes spaces and commas and unifies range separators to an en dash.
func NormalizeSalary(s string) string {
	if s == "" {
		return ""
	}
	s = strings.NewReplacer(" ", "", ",", "", "　", "").Replace(s)
	return strings.NewReplacer("~", "–", "〜", "–", "-", "–").Replace(s)
}

// SoftTitle strips brackets, trailing qualifiers and redundant words from a job title.
func SoftTitle(title string) string {
	if title == "" {
		return ""
	}
	t := bracketRE.ReplaceAllString(title, "")
	t = separatorRE.ReplaceAllString(t, "")
	t = strings.ReplaceAll(t, "新規事業", "")
	t = spacesRE.ReplaceAllString(t, " ")
	return strings.Trim(t, " -｜|/")
}

// DeriveRole picks a short role label from title and summary.
func DeriveRole(title, summary string) string {
	hay := title + " " + summary
	for _, rule := range roleRules {
		if rule.re.MatchString(hay) {
			return rule.label
		}
	}
	return SoftTitle(title)
}

// FormatJobLine renders "◆role｜salary".
func FormatJobLine(p types.Position) string {
	role := DeriveRole(p.Title, p.CompanyDesc)
	if role == "" {
		role = DefaultRole
	}
	return "◆" + role + "｜" + NormalizeSalary(p.Salary)
}

// EnsureURLTail trims text so that url fits intact on the last line within limit runes.
func EnsureURLTail(text, url string, limit int) string {
	base := strings.TrimSpace(text)
	if base == "" {
		return url
	}
	if url == "" {
		return truncateRunes(base, limit)
	}
	if strings.HasSuffix(base, url) {
		if len([]rune(base)) <= limit {
			return base
		}
		base = strings.TrimSpace(strings.TrimSuffix(base, url))
	}

	room := limit - len([]rune(url)) - 1 // newline
	if room <= 0 {
		return url
	}
	if r := []rune(base); len(r) > room {
		base = string(r[:room-1]) + "…"
	}
	return base + "\n" + url
}

// TidyNote collapses blank lines and removes blank lines before job lines and after the header.
func TidyNote(text, header string) string {
	s := strings.TrimSpace(text)
	if s == "" {
		return s
	}
	s = manyNewlines.ReplaceAllString(s, "\n\n")
	if header != "" {
		s = regexp.MustCompile(regexp.QuoteMeta(header)+`\n\s*\n`).ReplaceAllString(s, header+"\n")
	}
	return blankBeforeJb.ReplaceAllString(s, "\n$1")
}

// NoteTemplate holds the fixed parts of a friend-request note
type NoteTemplate struct {
	Subject      string `json:"subject" toml:"subject"`
	Intro        string `json:"intro" toml:"intro"`
	JobHeader    string `json:"job_header" toml:"job_header"`
	CallToAction string `json:"call_to_action" toml:"call_to_action"`
	URL          string `json:"url" toml:"url" validate:"omitempty,url"`
	MaxRunes     int    `json:"max_runes" toml:"max_runes"`
}

// DefaultNoteTemplate returns the standard note parts.
func DefaultNoteTemplate() NoteTemplate {
	return NoteTemplate{
		Subject:      "【国内トップ層向け案件紹介】",
		Intro:        "ご経歴を拝見し、ぜひご紹介したい求人がございます。",
		JobHeader:    "―厳選求人例―",
		CallToAction: "ご興味あれば、面談をお願いいたします。",
		MaxRunes:     DefaultNoteLimit,
	}
}

// JobLines formats at most n positions, one per line.
func JobLines(positions []types.Position, n int) string {
	if n > 0 && len(positions) > n {
		positions = positions[:n]
	}
	lines := make([]string, 0, len(positions))
	for _, p := range positions {
		lines = append(lines, FormatJobLine(p))
	}
	return strings.Join(lines, "\n")
}

// LocalNote builds a note without the generative service.
func LocalNote(t NoteTemplate, fullName string, positions []types.Position) string {
	var sb strings.Builder
	if surname := Surname(fullName); surname != "" {
		sb.WriteString(surname + "様\n")
	}
	sb.WriteString(t.Subject + "\n")
	sb.WriteString(t.Intro + "\n")
	sb.WriteString(t.JobHeader + "\n")
	sb.WriteString(JobLines(positions, 2) + "\n")
	sb.WriteString(t.CallToAction + "\n")
	return FinishNote(t, sb.String())
}

// FinishNote tidies a note and guarantees the URL tail and length cap.
func FinishNote(t NoteTemplate, text string) string {
	limit := t.MaxRunes
	if limit <= 0 {
		limit = DefaultNoteLimit
	}
	return EnsureURLTail(TidyNote(text, t.JobHeader), t.URL, limit)
}

// Surname returns the family name from a full name.
// Names written in CJK scripts put the family name first; others put it last.
func Surname(fullName string) string {
	parts := strings.FieldsFunc(strings.TrimSpace(fullName), func(r rune) bool {
		return unicode.IsSpace(r) || r == '　'
	})
	if len(parts) == 0 {
		return ""
	}
	for _, r := range fullName {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana) {
			return parts[0]
		}
	}
	return parts[len(parts)-1]
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
