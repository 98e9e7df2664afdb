package engine

import (
	"context"
	"time"

	"keymapd/internal/device"
	"keymapd/internal/state"
)

// DeviceStatus is one grabbed keyboard.
type DeviceStatus struct {
	device.Info
	KeyboardType string `json:"keyboard_type"`
}

// Status is a point-in-time report of the engine.
type Status struct {
	Suspended        bool           `json:"suspended"`
	StartedAt        time.Time      `json:"started_at"`
	Events           uint64         `json:"events"`
	Devices          []DeviceStatus `json:"devices"`
	Held             []string       `json:"held"`
	Asserted         []string       `json:"asserted"`
	PendingSequences int            `json:"pending_sequences"`
	Keymaps          int            `json:"keymaps"`
	Modmaps          int            `json:"modmaps"`
	Multipurpose     int            `json:"multipurpose"`
	Context          state.Snapshot `json:"context"`
}

// do runs fn on the control loop and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	c := command{fn: fn, done: make(chan struct{})}
	select {
	case e.cmds <- c:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-c.done
	return nil
}

// Status reports the current state.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.do(ctx, func() {
		rules := e.pipeline.Rules()
		st = Status{
			Suspended:        e.suspended,
			StartedAt:        e.started,
			Events:           e.events,
			Held:             codeNames(e.tracker.Held()),
			Asserted:         codeNames(e.exec.Asserted()),
			PendingSequences: e.timers.len(),
			Keymaps:          len(rules.Keymaps),
			Modmaps:          len(rules.Modmaps),
			Multipurpose:     len(rules.Multipurpose),
			Context:          e.ctx.Snapshot(),
		}
		for _, info := range e.devices.Devices() {
			_, kt, _ := e.devices.Lookup(info.Path)
			st.Devices = append(st.Devices, DeviceStatus{Info: info, KeyboardType: kt.String()})
		}
	})
	return st, err
}

// Reload installs a new configuration. Held keys keep the logical codes
// they were pressed with; pending sequences run to completion.
func (e *Engine) Reload(ctx context.Context, cfg Config) error {
	return e.do(ctx, func() {
		if cfg.Rules == nil {
			cfg.Rules = e.cfg.Rules
		}
		if cfg.SuspendTimeout <= 0 {
			cfg.SuspendTimeout = DefaultSuspendTimeout
		}
		e.cfg = cfg
		e.pipeline.SetRules(cfg.Rules)
		e.devices.SetFilter(cfg.Filter)
		e.ctx.OverrideKeyboardType(cfg.KeyboardType)
		if cfg.Settings != nil {
			e.ctx.ReplaceSettings(cfg.Settings, true)
		}
		if d, ok := e.sink.(delaySetter); ok {
			d.SetDelays(cfg.Delays)
		}
		e.logger.Info("configuration reloaded",
			"keymaps", len(cfg.Rules.Keymaps),
			"modmaps", len(cfg.Rules.Modmaps),
			"multipurpose", len(cfg.Rules.Multipurpose))
	})
}

// SetSuspended suspends or resumes remapping.
func (e *Engine) SetSuspended(ctx context.Context, on bool) error {
	var err error
	if cerr := e.do(ctx, func() { err = e.setSuspended(on) }); cerr != nil {
		return cerr
	}
	return err
}

// SetSetting changes a settings flag as a SetSetting step would.
func (e *Engine) SetSetting(ctx context.Context, name string, value bool) error {
	return e.do(ctx, func() { e.ctx.SetSetting(name, value) })
}

// ResetSetting returns a flag to its configured default and reports the
// value now in effect.
func (e *Engine) ResetSetting(ctx context.Context, name string) (bool, error) {
	var v bool
	err := e.do(ctx, func() { v = e.ctx.ResetSetting(name) })
	return v, err
}

// Setting reads a settings flag.
func (e *Engine) Setting(ctx context.Context, name string) (bool, error) {
	var v bool
	err := e.do(ctx, func() { v = e.ctx.GetSetting(name) })
	return v, err
}

// OverrideKeyboardType forces the keyboard type; nil returns to detection.
func (e *Engine) OverrideKeyboardType(ctx context.Context, kt *state.KeyboardType) error {
	return e.do(ctx, func() {
		e.cfg.KeyboardType = kt
		e.ctx.OverrideKeyboardType(kt)
	})
}

// Shutdown asks Run to release everything and return.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.do(ctx, func() { e.stop = true })
}

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }
