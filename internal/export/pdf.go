package export

import (
	"context"
	"encoding/base64"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

var chromeBinaries = []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}

const pdfTimeout = 60 * time.Second

// reportFooter numbers the pages of a genre report. Chrome fills the
// pageNumber and totalPages spans.
const reportFooter = `<div style="font-size:8px;width:100%;text-align:center;color:#666">` +
	`<span class="pageNumber"></span> / <span class="totalPages"></span></div>`

func chromeBinary() (string, error) {
	for _, name := range chromeBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: none of %s found", ErrPDFDependencyMissing, strings.Join(chromeBinaries, ", "))
}

// htmlDataURL embeds a rendered report in a base64 data URL.
func htmlDataURL(html string) string {
	return "data:text/html;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte(html))
}

// reportPrintParams prints A4 portrait with a page-number footer.
func reportPrintParams() *page.PrintToPDFParams {
	return page.PrintToPDF().
		WithPrintBackground(true).
		WithPaperWidth(8.27).
		WithPaperHeight(11.69).
		WithMarginTop(0.4).
		WithMarginBottom(0.6).
		WithMarginLeft(0.4).
		WithMarginRight(0.4).
		WithDisplayHeaderFooter(true).
		WithHeaderTemplate("<span></span>").
		WithFooterTemplate(reportFooter)
}

// renderPDF prints a rendered genre report with headless Chrome.
func renderPDF(parent context.Context, html string, stem string) (*Result, error) {
	binary, err := chromeBinary()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(parent, pdfTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(binary),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var data []byte
	err = chromedp.Run(browserCtx,
		chromedp.Navigate(htmlDataURL(html)),
		chromedp.WaitVisible("section.genre, p.empty", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var printErr error
			data, _, printErr = reportPrintParams().Do(ctx)
			return printErr
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print genre report: %w", err)
	}
	return &Result{Data: data, Filename: stem + ".pdf", MimeType: "application/pdf"}, nil
}

const maxStemLength = 60

// fileStem turns a label into a lower-case file name stem. Accented
// letters lose their accent, anything else that is not a letter or digit
// becomes a single dash.
func fileStem(label string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(label) {
		if folded, ok := accentFold[r]; ok {
			r = folded
		}
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
	}
	stem := b.String()
	if len(stem) > maxStemLength {
		stem = strings.TrimRight(stem[:maxStemLength], "-")
	}
	if stem == "" {
		return "audiolibri"
	}
	return stem
}

var accentFold = map[rune]rune{
	'à': 'a', 'á': 'a', 'â': 'a', 'è': 'e', 'é': 'e', 'ê': 'e', 'ì': 'i', 'í': 'i', 'î': 'i',
	'ò': 'o', 'ó': 'o', 'ô': 'o', 'ù': 'u', 'ú': 'u', 'û': 'u', 'ç': 'c', 'ñ': 'n',
}
