// Package vmmonitor is a read-only tview/tcell inspector for a running
// vm.VM, adapted from the teacher's debugger TUI. IOVM1 has no branches, no
// stack, and no symbol table to step through, so the panels this package
// shows are register file, execution state, and a log of host-adapter
// callback activity rather than source/disassembly/breakpoint views.
package vmmonitor

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/alttpo/iovm1/vm"
)

// Monitor renders a vm.VM's live state. It never mutates the VM: the only
// way to affect a monitored procedure is through the embedder's own Exec
// loop running concurrently on another goroutine.
type Monitor struct {
	VM  *vm.VM
	App *tview.Application

	MainLayout   *tview.Flex
	StateView    *tview.TextView
	ChannelsView *tview.TextView
	LogView      *tview.TextView
}

// NewMonitor builds a Monitor over v. Wrap v's adapter with Decorate before
// starting v.Exec so the log view has something to show.
func NewMonitor(v *vm.VM) *Monitor {
	m := &Monitor{
		VM:  v,
		App: tview.NewApplication(),
	}
	m.initializeViews()
	m.buildLayout()
	m.setupKeyBindings()
	return m
}

func (m *Monitor) initializeViews() {
	m.StateView = tview.NewTextView().SetDynamicColors(true)
	m.StateView.SetBorder(true).SetTitle(" Execution State ")

	m.ChannelsView = tview.NewTextView().SetDynamicColors(true)
	m.ChannelsView.SetBorder(true).SetTitle(" Channels ")

	m.LogView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(true)
	m.LogView.SetBorder(true).SetTitle(" Callback Log ")
}

func (m *Monitor) buildLayout() {
	top := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(m.StateView, 0, 1, false).
		AddItem(m.ChannelsView, 0, 2, false)

	m.MainLayout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(top, 8, 0, false).
		AddItem(m.LogView, 0, 1, false)
}

func (m *Monitor) setupKeyBindings() {
	m.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			m.App.Stop()
			return nil
		case tcell.KeyCtrlL:
			m.RefreshAll()
			return nil
		}
		return event
	})
}

// RefreshAll redraws every panel from the current VM state. Safe to call
// from the goroutine driving v.Exec via App.QueueUpdateDraw.
func (m *Monitor) RefreshAll() {
	m.updateStateView()
	m.updateChannelsView()
	m.App.Draw()
}

func (m *Monitor) updateStateView() {
	lines := []string{
		fmt.Sprintf("State:  [yellow]%s[white]", m.VM.GetExecState()),
		fmt.Sprintf("Offset: 0x%04X", m.VM.ProgramOffset()),
		fmt.Sprintf("LastErr: %s", m.VM.LastError()),
	}
	m.StateView.SetText(strings.Join(lines, "\n"))
}

func (m *Monitor) updateChannelsView() {
	var lines []string
	lines = append(lines, fmt.Sprintf("%-3s %-8s %-4s %-6s %-6s %-10s", "Ch", "A", "TV", "Len", "Cmp/Msk", "Tim"))
	for i := 0; i < vm.ChannelCount; i++ {
		ch := m.VM.Channel(i)
		lines = append(lines, fmt.Sprintf(
			"%-3d 0x%06X %-4d %-6d 0x%02X/0x%02X %-10d",
			i, ch.A, ch.TV, ch.Len, ch.Cmp, ch.Msk, ch.Tim,
		))
	}
	m.ChannelsView.SetText(strings.Join(lines, "\n"))
}

// WriteLog appends a line to the callback log, matching the teacher's
// TUI.WriteOutput convention.
func (m *Monitor) WriteLog(format string, args ...any) {
	fmt.Fprintf(m.LogView, format+"\n", args...)
	m.LogView.ScrollToEnd()
}

// Run starts the tview event loop. It blocks until Stop is called (e.g. by
// Ctrl+C) or the terminal surface errors out.
func (m *Monitor) Run() error {
	m.RefreshAll()
	m.WriteLog("[green]IOVM1 monitor attached[white]")
	return m.App.SetRoot(m.MainLayout, true).Run()
}

// Stop tears down the tview application.
func (m *Monitor) Stop() {
	m.App.Stop()
}

// observingAdapter decorates a vm.HostAdapter, forwarding every call
// unchanged while logging it to a Monitor.
type observingAdapter struct {
	inner vm.HostAdapter
	mon   *Monitor
}

// Decorate wraps inner so every callback it handles is also logged to mon,
// without altering any of its decisions (spec.md §9's adapter-delegation
// architecture makes this a pure wrapper: the monitor observes, it never
// overrides).
func Decorate(inner vm.HostAdapter, mon *Monitor) vm.HostAdapter {
	return &observingAdapter{inner: inner, mon: mon}
}

func (o *observingAdapter) OnOpcode(v *vm.VM, cs *vm.CallbackState) {
	o.inner.OnOpcode(v, cs)
	o.mon.App.QueueUpdateDraw(func() {
		o.mon.WriteLog("opcode=%s channel=%d target=%d complete=%v", cs.O, cs.C, cs.T, cs.Complete)
		o.mon.RefreshAll()
	})
}

func (o *observingAdapter) SendEnd(v *vm.VM) {
	o.inner.SendEnd(v)
	o.mon.App.QueueUpdateDraw(func() {
		o.mon.WriteLog("[blue]end[white] lastErr=%s", v.LastError())
	})
}

func (o *observingAdapter) SendAbort(v *vm.VM) {
	o.inner.SendAbort(v)
	o.mon.App.QueueUpdateDraw(func() {
		o.mon.WriteLog("[red]abort[white] lastErr=%s", v.LastError())
	})
}

func (o *observingAdapter) SendRead(v *vm.VM, requestedLen uint32, data []byte) {
	o.inner.SendRead(v, requestedLen, data)
	o.mon.App.QueueUpdateDraw(func() {
		o.mon.WriteLog("read len=%d", requestedLen)
	})
}

func (o *observingAdapter) TimerReset(v *vm.VM)        { o.inner.TimerReset(v) }
func (o *observingAdapter) TimerElapsed(v *vm.VM) bool { return o.inner.TimerElapsed(v) }
func (o *observingAdapter) TimerCleanup(v *vm.VM)      { o.inner.TimerCleanup(v) }
