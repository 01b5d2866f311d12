// Package content renders AMEE responses, errors and statistics for the
// terminal. JSON payloads are pretty-printed and highlighted with Chroma;
// status and error text is styled with Lipgloss according to the active theme.
package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
	"github.com/charmbracelet/lipgloss"

	apperrors "github.com/carbon-console/amee/internal/errors"
	"github.com/carbon-console/amee/internal/interfaces"
	"github.com/carbon-console/amee/internal/protocol"
)

// Renderer formats client output for display
type Renderer struct {
	syntaxHighlighter *SyntaxHighlighter
	themeManager      *ThemeManager
	noColor           bool
}

// SyntaxHighlighter provides code syntax highlighting capabilities using Chroma
type SyntaxHighlighter struct {
	formatter chroma.Formatter
	style     *chroma.Style
	theme     string
}

// ThemeManager handles theme-specific styling and color management
type ThemeManager struct {
	currentTheme   *interfaces.Theme
	lipglossStyles map[string]lipgloss.Style
}

// NewRenderer creates a renderer. With noColor set, output carries no escape
// sequences.
func NewRenderer(noColor bool) (*Renderer, error) {
	formatterName := "terminal256"
	if noColor {
		formatterName = "noop"
	}

	highlighter, err := NewSyntaxHighlighter("github", formatterName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize syntax highlighter: %w", err)
	}

	return &Renderer{
		syntaxHighlighter: highlighter,
		themeManager:      NewThemeManager(),
		noColor:           noColor,
	}, nil
}

// SetTheme applies a configured theme to status and error styling and selects
// the Chroma style of the same name for payloads. The colors are applied even
// when no such Chroma style exists; the error reports that case.
func (r *Renderer) SetTheme(theme *interfaces.Theme) error {
	if theme == nil {
		return nil
	}
	r.themeManager.SetTheme(theme)
	return r.syntaxHighlighter.SetTheme(theme.Name)
}

func (r *Renderer) style(name, text string) string {
	if r.noColor {
		return text
	}
	return r.themeManager.Style(name).Render(text)
}

// RenderPayload pretty-prints a JSON payload line. Text that is not valid
// JSON is returned unchanged.
func (r *Renderer) RenderPayload(payload string) (string, error) {
	if strings.TrimSpace(payload) == "" {
		return r.style("status_warning", "(no JSON payload)"), nil
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, []byte(payload), "", "  "); err != nil {
		return payload, nil
	}

	highlighted, err := r.syntaxHighlighter.Highlight(indented.String(), "json")
	if err != nil {
		return indented.String(), err
	}
	return highlighted, nil
}

// RenderRaw renders the full response: styled status line, headers, then
// highlighted payload lines.
func (r *Renderer) RenderRaw(resp *interfaces.Response) (string, error) {
	if resp == nil || len(resp.Lines) == 0 {
		return "", fmt.Errorf("response cannot be empty")
	}

	var lines []string
	lines = append(lines, r.style(statusStyleName(resp.StatusLine()), resp.StatusLine()))

	for _, line := range resp.Lines[1:] {
		if strings.HasPrefix(line, "{") {
			rendered, err := r.RenderPayload(line)
			if err != nil {
				return "", err
			}
			lines = append(lines, rendered)
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

// statusStyleName picks the status style for an HTTP status line.
func statusStyleName(statusLine string) string {
	fields := strings.Fields(statusLine)
	if len(fields) < 2 || len(fields[1]) != 3 {
		return "status_default"
	}
	switch fields[1][0] {
	case '2':
		return "status_success"
	case '3':
		return "status_info"
	case '4':
		return "status_warning"
	case '5':
		return "status_error"
	}
	return "status_default"
}

// RenderError formats a processed error with its recovery hints
func (r *Renderer) RenderError(processed *apperrors.ProcessedError) (string, error) {
	if processed == nil {
		return "", fmt.Errorf("processed error cannot be nil")
	}

	kind := string(processed.Type)
	if kind == "" {
		kind = "unexpected"
	}

	components := []string{
		r.style("error", fmt.Sprintf("Error (%s): %s", kind, processed.Message)),
	}
	for _, hint := range processed.Hints {
		components = append(components, r.style("info", "  hint: "+hint))
	}
	return strings.Join(components, "\n"), nil
}

// RenderStatistics formats dispatch statistics as an aligned table
func (r *Renderer) RenderStatistics(stats protocol.Statistics) string {
	rows := [][2]string{
		{"requests", fmt.Sprintf("%d", stats.TotalRequests)},
		{"successful", fmt.Sprintf("%d", stats.SuccessfulRequests)},
		{"failed", fmt.Sprintf("%d", stats.FailedRequests)},
		{"retries", fmt.Sprintf("%d", stats.Retries)},
		{"avg response", stats.AverageResponseTime.String()},
		{"bytes sent", fmt.Sprintf("%d", stats.BytesSent)},
		{"bytes received", fmt.Sprintf("%d", stats.BytesReceived)},
	}

	width := 0
	for _, row := range rows {
		if len(row[0]) > width {
			width = len(row[0])
		}
	}

	lines := []string{r.style("table_header", "Statistics")}
	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("  %-*s  %s", width, row[0], row[1]))
	}
	return strings.Join(lines, "\n")
}

// NewSyntaxHighlighter creates a highlighter for a Chroma style and formatter
func NewSyntaxHighlighter(themeName, formatterName string) (*SyntaxHighlighter, error) {
	formatter := formatters.Get(formatterName)
	if formatter == nil {
		formatter = formatters.Fallback
	}

	style := styles.Get(themeName)
	if style == nil {
		style = styles.GitHub
	}

	return &SyntaxHighlighter{
		formatter: formatter,
		style:     style,
		theme:     themeName,
	}, nil
}

// Highlight applies syntax highlighting to code
func (sh *SyntaxHighlighter) Highlight(code, language string) (string, error) {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}

	var highlighted strings.Builder
	if err := sh.formatter.Format(&highlighted, sh.style, iterator); err != nil {
		return code, err
	}
	return highlighted.String(), nil
}

// SetTheme updates the syntax highlighting theme
func (sh *SyntaxHighlighter) SetTheme(themeName string) error {
	style, exists := styles.Registry[themeName]
	if !exists {
		return fmt.Errorf("theme '%s' not found", themeName)
	}

	sh.style = style
	sh.theme = themeName
	return nil
}

// NewThemeManager creates a theme manager with the default palette
func NewThemeManager() *ThemeManager {
	tm := &ThemeManager{}
	tm.initializeDefaultStyles()
	return tm
}

// SetTheme updates the current theme and rebuilds styles
func (tm *ThemeManager) SetTheme(theme *interfaces.Theme) {
	tm.currentTheme = theme
	tm.buildLipglossStyles()
}

// Style returns the named style, or an unstyled one
func (tm *ThemeManager) Style(name string) lipgloss.Style {
	if style, exists := tm.lipglossStyles[name]; exists {
		return style
	}
	return tm.lipglossStyles["status_default"]
}

func (tm *ThemeManager) initializeDefaultStyles() {
	tm.lipglossStyles = map[string]lipgloss.Style{
		"status_default": lipgloss.NewStyle(),
		"status_success": lipgloss.NewStyle().Foreground(lipgloss.Color("#28a745")).Bold(true),
		"status_error":   lipgloss.NewStyle().Foreground(lipgloss.Color("#dc3545")).Bold(true),
		"status_warning": lipgloss.NewStyle().Foreground(lipgloss.Color("#ffc107")).Bold(true),
		"status_info":    lipgloss.NewStyle().Foreground(lipgloss.Color("#17a2b8")).Bold(true),
		"error":          lipgloss.NewStyle().Foreground(lipgloss.Color("#dc3545")).Bold(true),
		"info":           lipgloss.NewStyle().Foreground(lipgloss.Color("#17a2b8")),
		"table_header":   lipgloss.NewStyle().Bold(true).Underline(true),
	}
}

// buildLipglossStyles recolors the themed styles from the current theme
func (tm *ThemeManager) buildLipglossStyles() {
	if tm.currentTheme == nil {
		return
	}

	recolor := func(name, color string) {
		if color != "" {
			tm.lipglossStyles[name] = tm.lipglossStyles[name].Foreground(lipgloss.Color(color))
		}
	}
	recolor("status_success", tm.currentTheme.Success)
	recolor("status_error", tm.currentTheme.Error)
	recolor("status_warning", tm.currentTheme.Warning)
	recolor("status_info", tm.currentTheme.Info)
	recolor("error", tm.currentTheme.Error)
	recolor("info", tm.currentTheme.Info)
}
