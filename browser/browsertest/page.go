// Package browsertest provides a scripted in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/CbIPOKGIT/claimer/browser"
)

// Eval is one recorded Evaluate call.
type Eval struct {
	Script string
	Args   []any
}

// ClickAttempt is one Click or ClickInFrame call, successful or not.
type ClickAttempt struct {
	Key  string
	Opts browser.ClickOptions
}

// Page is a fake browser.Page. Elements are keyed by Locator.String().
// All maps may be edited from hooks while the page is in use; hooks run
// without the lock held.
type Page struct {
	mu sync.Mutex

	CurrentURL string
	Markup     string
	Status     int

	NavigateErr map[string]error
	Counts      map[string]int
	Texts       map[string]string
	Attrs       map[string]map[string]string
	DisabledSet map[string]bool
	ClickErr    map[string]error
	EvalErr     error
	HTMLErr     error
	ShotErr     error

	// Called after every successful click, may mutate the page
	OnClick func(p *Page, loc browser.Locator)
	// Overrides Evaluate result
	OnEval func(p *Page, script string, args []any) (string, error)

	Navigations []string
	Clicks      []string
	Attempts    []ClickAttempt
	Evals       []Eval
	Screenshots int
	HTMLReads   int
}

// New returns an empty page that answers every query with absence.
func New() *Page {
	return &Page{
		Status:      200,
		NavigateErr: map[string]error{},
		Counts:      map[string]int{},
		Texts:       map[string]string{},
		Attrs:       map[string]map[string]string{},
		DisabledSet: map[string]bool{},
		ClickErr:    map[string]error{},
	}
}

// Set marks an element as present with the given text.
func (p *Page) Set(loc browser.Locator, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Counts[loc.String()] = 1
	p.Texts[loc.String()] = text
}

// Remove drops an element.
func (p *Page) Remove(loc browser.Locator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Counts, loc.String())
	delete(p.Texts, loc.String())
}

// SetAttr sets an attribute and marks the element present.
func (p *Page) SetAttr(loc browser.Locator, name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Counts[loc.String()] == 0 {
		p.Counts[loc.String()] = 1
	}
	attrs, ok := p.Attrs[loc.String()]
	if !ok {
		attrs = map[string]string{}
		p.Attrs[loc.String()] = attrs
	}
	attrs[name] = value
}

// SetDisabled toggles the disabled state of an element.
func (p *Page) SetDisabled(loc browser.Locator, disabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DisabledSet[loc.String()] = disabled
}

// ClickCount reports how many times loc was clicked.
func (p *Page) ClickCount(loc browser.Locator) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.Clicks {
		if c == loc.String() {
			n++
		}
	}
	return n
}

// AttemptsOn returns the recorded click attempts on loc, in call order.
func (p *Page) AttemptsOn(loc browser.Locator) []ClickAttempt {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []ClickAttempt
	for _, a := range p.Attempts {
		if a.Key == loc.String() {
			out = append(out, a)
		}
	}
	return out
}

func (p *Page) Navigate(ctx context.Context, url string, wait browser.WaitCondition) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Navigations = append(p.Navigations, url)
	if err := p.NavigateErr[url]; err != nil {
		return 0, err
	}
	p.CurrentURL = url
	return p.Status, nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL
}

func (p *Page) Count(ctx context.Context, loc browser.Locator) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Counts[loc.String()], nil
}

func (p *Page) Click(ctx context.Context, loc browser.Locator, opts browser.ClickOptions) error {
	return p.click(ctx, loc.String(), loc, opts)
}

func (p *Page) ClickInFrame(ctx context.Context, frame, target browser.Locator, opts browser.ClickOptions) error {
	if err := p.present(frame); err != nil {
		return err
	}
	return p.click(ctx, InFrame(frame, target).String(), target, opts)
}

// InFrame is the pseudo locator under which ClickInFrame looks up its target.
func InFrame(frame, target browser.Locator) browser.Locator {
	return browser.CSS(frame.String() + " >> " + target.String())
}

func (p *Page) click(ctx context.Context, key string, loc browser.Locator, opts browser.ClickOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.Attempts = append(p.Attempts, ClickAttempt{Key: key, Opts: opts})
	if err := p.ClickErr[key]; err != nil {
		p.mu.Unlock()
		return err
	}
	if p.Counts[key] == 0 {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, key)
	}
	p.Clicks = append(p.Clicks, key)
	hook := p.OnClick
	p.mu.Unlock()

	if hook != nil {
		hook(p, loc)
	}
	return nil
}

func (p *Page) present(loc browser.Locator) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Counts[loc.String()] == 0 {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, loc)
	}
	return nil
}

func (p *Page) Text(ctx context.Context, loc browser.Locator) (string, error) {
	if err := p.present(loc); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Texts[loc.String()], nil
}

func (p *Page) Attribute(ctx context.Context, loc browser.Locator, name string) (string, bool, error) {
	if err := p.present(loc); err != nil {
		return "", false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	value, ok := p.Attrs[loc.String()][name]
	return value, ok, nil
}

func (p *Page) Disabled(ctx context.Context, loc browser.Locator) (bool, error) {
	if err := p.present(loc); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DisabledSet[loc.String()], nil
}

func (p *Page) Evaluate(ctx context.Context, script string, args ...any) (string, error) {
	p.mu.Lock()
	p.Evals = append(p.Evals, Eval{Script: script, Args: args})
	hook, err := p.OnEval, p.EvalErr
	p.mu.Unlock()

	if hook != nil {
		return hook(p, script, args)
	}
	return "", err
}

func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Screenshots++
	if p.ShotErr != nil {
		return nil, p.ShotErr
	}
	return []byte("\x89PNG fake"), nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.HTMLReads++
	if p.HTMLErr != nil {
		return "", p.HTMLErr
	}
	return p.Markup, nil
}

var _ browser.Page = (*Page)(nil)
