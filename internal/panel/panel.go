// Package panel is the optional desktop window for steering the stream
// server: one slider for the filter and two for the noise percentages.
package panel

import (
	"context"
	"fmt"

	"camlab/internal/control"
	"camlab/internal/logger"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

const component = "Panel"

type Panel struct {
	settings *control.Settings
	log      logger.Logger
	window   fyne.Window

	filterSlider *widget.Slider
	saltSlider   *widget.Slider
	pepperSlider *widget.Slider
	filterLabel  *widget.Label
	saltLabel    *widget.Label
	pepperLabel  *widget.Label

	// applying is set while widgets are moved to match a snapshot, so the
	// slider callbacks do not write it back.
	applying bool
}

func New(app fyne.App, settings *control.Settings, log logger.Logger) *Panel {
	if log == nil {
		log = logger.Nop{}
	}
	p := &Panel{
		settings: settings,
		log:      log,
		window:   app.NewWindow("camlab · filtros"),
	}
	p.setupControls()
	p.window.SetContent(p.container())
	p.window.Resize(fyne.NewSize(420, 220))
	p.Apply(settings.Snapshot())
	return p
}

func (p *Panel) setupControls() {
	p.filterSlider = widget.NewSlider(0, float64(control.FilterCount-1))
	p.filterSlider.Step = 1
	p.filterLabel = widget.NewLabel("")
	p.filterSlider.OnChanged = func(v float64) { p.onFilterChanged(int(v)) }

	p.saltSlider = widget.NewSlider(0, 100)
	p.saltSlider.Step = 1
	p.saltLabel = widget.NewLabel("")
	p.saltSlider.OnChanged = func(float64) { p.onNoiseChanged() }

	p.pepperSlider = widget.NewSlider(0, 100)
	p.pepperSlider.Step = 1
	p.pepperLabel = widget.NewLabel("")
	p.pepperSlider.OnChanged = func(float64) { p.onNoiseChanged() }
}

func (p *Panel) container() *fyne.Container {
	return container.NewVBox(
		p.filterLabel,
		p.filterSlider,
		widget.NewSeparator(),
		p.saltLabel,
		p.saltSlider,
		p.pepperLabel,
		p.pepperSlider,
	)
}

func (p *Panel) onFilterChanged(index int) {
	p.filterLabel.SetText(filterText(index))
	if p.applying {
		return
	}
	if err := p.settings.SetFilter(index); err != nil {
		p.log.Warning(component, "filter rejected", map[string]interface{}{"filter": index, "error": err.Error()})
	}
}

func (p *Panel) onNoiseChanged() {
	salt, pepper := int(p.saltSlider.Value), int(p.pepperSlider.Value)
	p.saltLabel.SetText(fmt.Sprintf("Sal: %d%%", salt))
	p.pepperLabel.SetText(fmt.Sprintf("Pimienta: %d%%", pepper))
	if p.applying {
		return
	}
	if err := p.settings.SetNoise(salt, pepper); err != nil {
		p.log.Warning(component, "noise rejected", map[string]interface{}{"salt": salt, "pepper": pepper, "error": err.Error()})
	}
}

func filterText(index int) string {
	if index < 0 || index >= control.FilterCount {
		return fmt.Sprintf("Filtro %d", index)
	}
	return fmt.Sprintf("Filtro %d: %s", index, control.Filters[index].Label)
}

// Apply moves the widgets to snap without writing back to the settings.
// It must run on the UI goroutine.
func (p *Panel) Apply(snap control.Snapshot) {
	p.applying = true
	defer func() { p.applying = false }()

	p.filterSlider.SetValue(float64(snap.Filter))
	p.saltSlider.SetValue(float64(snap.Salt))
	p.pepperSlider.SetValue(float64(snap.Pepper))

	p.filterLabel.SetText(filterText(snap.Filter))
	p.saltLabel.SetText(fmt.Sprintf("Sal: %d%%", snap.Salt))
	p.pepperLabel.SetText(fmt.Sprintf("Pimienta: %d%%", snap.Pepper))
}

// Follow mirrors settings changes made elsewhere (HTTP) into the window
// until ctx is done.
func (p *Panel) Follow(ctx context.Context) {
	id, updates := p.settings.Subscribe()
	defer p.settings.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			fyne.Do(func() { p.Apply(snap) })
		}
	}
}

// ShowAndRun blocks on the UI loop. onClose runs when the window is closed.
func (p *Panel) ShowAndRun(ctx context.Context, onClose func()) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.Follow(ctx)

	p.window.SetOnClosed(func() {
		cancel()
		if onClose != nil {
			onClose()
		}
	})
	p.window.ShowAndRun()
}

// Close closes the window from any goroutine.
func (p *Panel) Close() {
	fyne.Do(p.window.Close)
}
