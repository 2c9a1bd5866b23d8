package dispatch

import (
	"context"
	"fmt"
	"sync"

	"blueberry-voice/metrics"
	"blueberry-voice/output"

	"github.com/rs/zerolog"
)

const unknownHandlerMessage = "I recognized your command and want to help you but your function is not in my memory. Please teach me!"

// Result describes what an utterance triggered. Empty fields mean nothing of
// that kind fired.
type Result struct {
	Command  string
	Activity string
	Scene    string
	Err      error
}

// Matched reports whether anything fired.
func (r Result) Matched() bool {
	return r.Command != "" || r.Activity != "" || r.Scene != ""
}

type Dispatcher struct {
	table      *Table
	activities Vocabulary
	activity   ActivityHandler
	scenes     SceneController
	output     output.Emitter
	logger     zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

type Config struct {
	Table      *Table
	Activities []string
	Activity   ActivityHandler
	// Scenes is optional; without it scene names are not matched.
	Scenes SceneController
	Output output.Emitter
	Logger zerolog.Logger
}

func New(cfg *Config) (*Dispatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Table == nil {
		return nil, fmt.Errorf("table is nil")
	}

	if cfg.Output == nil {
		return nil, fmt.Errorf("output is nil")
	}

	return &Dispatcher{
		table:      cfg.Table,
		activities: NewVocabulary(cfg.Activities...),
		activity:   cfg.Activity,
		scenes:     cfg.Scenes,
		output:     cfg.Output,
		logger:     cfg.Logger,
		handlers:   make(map[string]Handler),
	}, nil
}

// Register binds a handler to a command name of the table.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[name] = h
}

func (d *Dispatcher) handler(name string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h, ok := d.handlers[name]
	return h, ok
}

// Dispatch runs the first matching command, then the single spoken activity,
// then the single spoken scene name.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) Result {
	var res Result

	words := Words(text)

	if name, ok := d.table.Match(words); ok {
		res.Command = name
		metrics.CommandsDispatched.WithLabelValues(name).Inc()

		if h, ok := d.handler(name); ok {
			d.logger.Info().Str("command", name).Msg("running command")
			if err := h(ctx, text); err != nil {
				res.Err = fmt.Errorf("command %s: %w", name, err)
				d.logger.Error().Err(err).Str("command", name).Msg("command failed")
			}
		} else {
			d.logger.Warn().Str("command", name).Msg("no handler registered")
			d.output.Emit(output.KindStatus, unknownHandlerMessage)
		}
	}

	if activity, ok := d.activities.Single(words); ok && d.activity != nil {
		res.Activity = activity
		if err := d.activity.StartActivity(ctx, activity); err != nil && res.Err == nil {
			res.Err = fmt.Errorf("start activity %s: %w", activity, err)
		}
	}

	if d.scenes != nil {
		if scene, ok := NewVocabulary(d.scenes.Scenes()...).Single(words); ok {
			res.Scene = scene
			if err := d.scenes.SetScene(ctx, scene); err != nil {
				if res.Err == nil {
					res.Err = fmt.Errorf("set scene %s: %w", scene, err)
				}
			} else {
				d.output.Emit(output.KindStatus, "I understood: "+text+"\n\nI changed the scene of your lights for you!")
			}
		}
	}

	if !res.Matched() {
		d.logger.Info().Strs("words", words.Sorted()).Msg("no command matched")
	}

	return res
}
