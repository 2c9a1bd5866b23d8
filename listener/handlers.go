package listener

import (
	"context"
	"fmt"
	"strings"

	"blueberry-voice/dispatch"
	"blueberry-voice/indicator"
	"blueberry-voice/output"
)

const lightsNotConnected = "I am sorry, but your hue lights are not connected"

func (l *listenerImpl) registerHandlers() {
	l.dispatcher.Register("take_note", func(ctx context.Context, _ string) error {
		return l.takeNote(ctx, false)
	})
	l.dispatcher.Register("write_todo", func(ctx context.Context, _ string) error {
		return l.takeNote(ctx, true)
	})
	l.dispatcher.Register("show_notes", func(ctx context.Context, _ string) error {
		return l.notes.ShowNotes(ctx)
	})
	l.dispatcher.Register("start_work_out", l.startWorkOut)
	l.dispatcher.Register("start_activity", func(ctx context.Context, _ string) error {
		return l.activities.StartActivity(ctx, "")
	})
	l.dispatcher.Register("stop_activity", func(ctx context.Context, _ string) error {
		return l.activities.StopActivity(ctx)
	})
	l.dispatcher.Register("increase_brightness", func(ctx context.Context, _ string) error {
		if l.scenes == nil {
			l.output.Emit(output.KindStatus, lightsNotConnected)
			return nil
		}
		return l.scenes.IncreaseBrightness(ctx)
	})
	l.dispatcher.Register("reduce_brightness", func(ctx context.Context, _ string) error {
		if l.scenes == nil {
			l.output.Emit(output.KindStatus, lightsNotConnected)
			return nil
		}
		return l.scenes.ReduceBrightness(ctx)
	})
	l.dispatcher.Register("shut_down", l.shutDown)
}

// takeNote listens again, with longer chunks so pauses while thinking do not
// end the note, and stores the text while the color wheel runs.
func (l *listenerImpl) takeNote(ctx context.Context, todo bool) error {
	l.output.Emit(output.KindStatus, "I am eager to listen for your note!")

	color := indicator.NoteColor
	text, err := l.ListenAndThink(ctx, ListenOptions{Color: &color, Chunk: l.noteChunk})
	if err != nil {
		return err
	}

	l.output.Emit(output.KindTranscript, fmt.Sprintf("I understood: %s \n \n now synchronizing...", text))

	if text == "" {
		return nil
	}

	session, err := l.leds.Acquire(ctx)
	if err != nil {
		return err
	}
	defer session.Release()

	if err := session.Animate(indicator.AnimationRequest{Kind: indicator.KindColorWheel}); err != nil {
		l.logger.Warn().Err(err).Msg("starting color wheel")
	}

	return l.notes.SaveNote(ctx, Note{Title: noteTitle(text), Text: text, Todo: todo})
}

// noteTitle is the first five words.
func noteTitle(text string) string {
	words := strings.Fields(text)
	if len(words) > 5 {
		words = words[:5]
	}
	return strings.Join(words, " ")
}

func (l *listenerImpl) startWorkOut(ctx context.Context, _ string) error {
	if err := l.activities.StartActivity(ctx, "sport"); err != nil {
		return err
	}

	if l.scenes != nil {
		return l.scenes.SetScene(ctx, "energize")
	}

	return nil
}

func (l *listenerImpl) shutDown(ctx context.Context, _ string) error {
	l.output.Emit(output.KindStatus, "Shutting down. Good bye!")

	if err := l.show(ctx, indicator.AnimationRequest{Kind: indicator.KindShutdown}); err != nil {
		return err
	}

	if l.onShutdown != nil {
		l.onShutdown()
	}

	return nil
}

type outputNotes struct {
	output output.Emitter
}

// NewOutputNotes hands notes to the output channel for a presentation layer
// to store.
func NewOutputNotes(out output.Emitter) NoteSink {
	return &outputNotes{output: out}
}

func (o *outputNotes) SaveNote(_ context.Context, note Note) error {
	kind := "note"
	if note.Todo {
		kind = "todo"
	}
	o.output.Emit(output.KindNote, fmt.Sprintf("new %s %q: %s", kind, note.Title, note.Text))
	return nil
}

func (o *outputNotes) ShowNotes(_ context.Context) error {
	o.output.Emit(output.KindStatus, "show_notes")
	return nil
}

type outputActivities struct {
	output output.Emitter
}

func NewOutputActivities(out output.Emitter) ActivityTracker {
	return &outputActivities{output: out}
}

func (o *outputActivities) StartActivity(_ context.Context, activity string) error {
	if activity == "" {
		o.output.Emit(output.KindStatus, "Starting your next activity")
		return nil
	}
	o.output.Emit(output.KindStatus, "Starting activity: "+activity)
	return nil
}

func (o *outputActivities) StopActivity(_ context.Context) error {
	o.output.Emit(output.KindStatus, "Stopped the current activity")
	return nil
}

var _ dispatch.ActivityHandler = (ActivityTracker)(nil)
