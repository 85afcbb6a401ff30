package ui

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/rlorbach/business-ai-agent/internal/logger"
	"github.com/rlorbach/business-ai-agent/internal/widget"
)

const alertPage = "alert"

// UI renders the conversation in a terminal. Render and Alert never block:
// views are coalesced and handed to the tview event loop by pump.
type UI struct {
	app          *tview.Application
	pages        *tview.Pages
	mainFlex     *tview.Flex
	chatFlex     *tview.Flex
	textView     *tview.TextView
	controlsFlex *tview.Flex
	debugConsole *tview.TextView
	showDebug    bool

	ctrl     *widget.Controller
	controls []widget.Control
	focus    []tview.Primitive

	mu      sync.Mutex
	pending *widget.View
	alerts  []string
	dirty   chan struct{}
}

func New(dev bool) *UI {
	u := &UI{
		app:       tview.NewApplication(),
		showDebug: dev,
		dirty:     make(chan struct{}, 1),
	}
	u.app.EnablePaste(true)
	u.app.EnableMouse(true)

	u.debugConsole = u.initDebugConsole()
	u.textView = u.initChatViewer()
	u.controlsFlex = tview.NewFlex()
	u.controlsFlex.SetBorder(true).SetTitle("Reply")

	u.chatFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(u.textView, 0, 1, false).
		AddItem(u.controlsFlex, 3, 0, true)
	u.mainFlex = tview.NewFlex().
		AddItem(u.chatFlex, 0, 2, true)
	if dev {
		u.mainFlex.AddItem(u.debugConsole, 0, 1, false)
	}
	u.pages = tview.NewPages().AddPage("main", u.mainFlex, true, true)
	return u
}

func (u *UI) initChatViewer() *tview.TextView {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(true).
		SetWordWrap(true)
	textView.SetTitle("Lorbach Digital").SetBorder(true)
	textView.SetScrollable(true)
	return textView
}

func (u *UI) initDebugConsole() *tview.TextView {
	console := tview.NewTextView().
		SetChangedFunc(func() {
			u.app.Draw()
		}).
		SetDynamicColors(true).
		SetWordWrap(true)
	console.SetTitle("Debugger").SetBorder(true)
	console.ScrollToEnd()
	return console
}

// DebugConsole is the log sink for dev mode.
func (u *UI) DebugConsole() io.Writer {
	return u.debugConsole
}

// Render implements widget.Renderer.
func (u *UI) Render(v widget.View) {
	u.mu.Lock()
	u.pending = &v
	u.mu.Unlock()
	u.poke()
}

// Alert implements widget.Renderer.
func (u *UI) Alert(msg string) {
	u.mu.Lock()
	u.alerts = append(u.alerts, msg)
	u.mu.Unlock()
	u.poke()
}

func (u *UI) poke() {
	select {
	case u.dirty <- struct{}{}:
	default:
	}
}

func (u *UI) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.dirty:
		}
		u.mu.Lock()
		v := u.pending
		alerts := u.alerts
		u.pending = nil
		u.alerts = nil
		u.mu.Unlock()

		u.app.QueueUpdateDraw(func() {
			if v != nil {
				u.draw(*v)
			}
			for _, msg := range alerts {
				u.showAlert(msg)
			}
		})
	}
}

// Run shows the conversation until ctx is cancelled or the user quits.
func (u *UI) Run(ctx context.Context, ctrl *widget.Controller) error {
	localLogger := logger.NewLogger("ui")
	u.ctrl = ctrl

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	u.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC, tcell.KeyESC:
			if u.pages.HasPage(alertPage) {
				return event
			}
			localLogger.Info("quit requested")
			cancel()
			return nil
		case tcell.KeyCtrlR:
			u.dispatch(widget.Event{Type: widget.EventRestart})
			return nil
		case tcell.KeyCtrlD:
			u.toggleDebugConsole()
			return nil
		}
		return event
	})

	go u.pump(ctx)
	go func() {
		<-ctx.Done()
		u.app.Stop()
	}()
	go ctrl.Start()

	err := u.app.SetRoot(u.pages, true).Run()
	cancel()
	ctrl.Close()
	return err
}

func (u *UI) dispatch(ev widget.Event) {
	go func() {
		if err := u.ctrl.Dispatch(ev); err != nil {
			logger.NewLogger("ui").Warn("dispatch: ", err)
		}
	}()
}

func (u *UI) toggleDebugConsole() {
	if u.showDebug {
		u.mainFlex.RemoveItem(u.debugConsole)
	} else {
		u.mainFlex.AddItem(u.debugConsole, 0, 1, false)
	}
	u.showDebug = !u.showDebug
}

func (u *UI) draw(v widget.View) {
	u.textView.SetText(formatTranscript(v))
	u.textView.ScrollToEnd()

	if slices.Equal(u.controls, v.Controls) {
		return
	}
	u.controls = v.Controls
	u.buildControls(v)
}

func (u *UI) buildControls(v widget.View) {
	u.controlsFlex.Clear()
	u.focus = nil

	height := 3
	switch {
	case len(v.Controls) == 1 && v.Controls[0].Kind == widget.ControlForm:
		form := u.contactForm(v.Controls[0])
		u.controlsFlex.AddItem(form, 0, 1, true)
		u.focus = append(u.focus, form)
		height = 13
	case len(v.Controls) == 1 && v.Controls[0].Kind == widget.ControlInput:
		u.controlsFlex.AddItem(u.inputField(v.Controls[0]), 0, 1, true)
	case len(v.Controls) == 0:
		hint := "Ctrl-R start over · Esc quit"
		if v.Streaming {
			hint = "…"
		}
		u.controlsFlex.AddItem(tview.NewTextView().SetText(hint).SetTextAlign(tview.AlignCenter), 0, 1, false)
	default:
		for _, ctl := range v.Controls {
			u.controlsFlex.AddItem(u.button(ctl), 0, 1, false)
			u.controlsFlex.AddItem(nil, 1, 0, false)
		}
	}
	u.chatFlex.ResizeItem(u.controlsFlex, height, 0)

	if len(u.focus) > 0 {
		u.app.SetFocus(u.focus[0])
	} else {
		u.app.SetFocus(u.controlsFlex)
	}
}

func (u *UI) button(ctl widget.Control) *tview.Button {
	ev := ctl.Event
	b := tview.NewButton(ctl.Label).SetSelectedFunc(func() {
		u.dispatch(ev)
	})
	if ctl.Primary {
		b.SetStyle(tcell.StyleDefault.Background(tcell.ColorDarkGreen))
	}
	idx := len(u.focus)
	b.SetExitFunc(func(key tcell.Key) {
		u.cycleFocus(idx, key)
	})
	u.focus = append(u.focus, b)
	return b
}

func (u *UI) cycleFocus(idx int, key tcell.Key) {
	n := len(u.focus)
	if n == 0 {
		return
	}
	switch key {
	case tcell.KeyTab:
		u.app.SetFocus(u.focus[(idx+1)%n])
	case tcell.KeyBacktab:
		u.app.SetFocus(u.focus[(idx+n-1)%n])
	}
}

func (u *UI) inputField(ctl widget.Control) *tview.InputField {
	field := tview.NewInputField().SetPlaceholder(ctl.Placeholder)
	field.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := field.GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		ev := ctl.Event
		ev.Value = text
		u.dispatch(ev)
	})
	u.focus = append(u.focus, field)
	return field
}

func (u *UI) contactForm(ctl widget.Control) *tview.Form {
	form := tview.NewForm().
		AddInputField("Name", "", 40, nil, nil).
		AddInputField("Email", "", 40, nil, nil).
		AddTextArea("Note", "", 40, 3, 0, nil)
	form.AddButton(ctl.Label, func() {
		ev := ctl.Event
		ev.Contact = widget.ContactForm{
			Name:  form.GetFormItemByLabel("Name").(*tview.InputField).GetText(),
			Email: form.GetFormItemByLabel("Email").(*tview.InputField).GetText(),
			Note:  form.GetFormItemByLabel("Note").(*tview.TextArea).GetText(),
		}
		u.dispatch(ev)
	})
	return form
}

func (u *UI) showAlert(msg string) {
	modal := tview.NewModal().
		SetText(msg).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(int, string) {
			u.pages.RemovePage(alertPage)
			if len(u.focus) > 0 {
				u.app.SetFocus(u.focus[0])
			}
		})
	u.pages.AddPage(alertPage, modal, true, true)
	u.app.SetFocus(modal)
}

func formatTranscript(v widget.View) string {
	var sb strings.Builder
	for _, m := range v.Transcript {
		writeMessage(&sb, m.Role, m.Text)
	}
	if v.Streaming {
		writeMessage(&sb, widget.RoleAgent, v.Live+"▌")
	}
	return sb.String()
}

func writeMessage(sb *strings.Builder, role widget.Role, text string) {
	if role == widget.RoleUser {
		fmt.Fprintf(sb, "[red::b]You:[-:-:-] %s\n\n", tview.Escape(text))
		return
	}
	fmt.Fprintf(sb, "[green::b]Agent:[-:-:-]\n%s\n\n", tview.Escape(text))
}
