// Package dispatch turns a transcribed utterance into at most one command,
// one activity and one light scene.
package dispatch

import "context"

// Handler runs a recognized command. text is the full transcription.
type Handler func(ctx context.Context, text string) error

// ActivityHandler starts tracking the named activity.
type ActivityHandler interface {
	StartActivity(ctx context.Context, activity string) error
}

// SceneController switches smart-light scenes.
type SceneController interface {
	Scenes() []string
	SetScene(ctx context.Context, name string) error
	IncreaseBrightness(ctx context.Context) error
	ReduceBrightness(ctx context.Context) error
}
