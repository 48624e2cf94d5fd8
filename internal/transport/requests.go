package transport

import "context"

// Typed wrappers over the request catalog. Thin by design: each builds the
// kind-specific fields and delegates to Request, RequestAsync, or Stream.

// AddAudio sends one base64-encoded audio chunk. The write happens before
// AddAudio returns so chunks stay in capture order; the acknowledgement is
// discarded. A nil cfg applies [DefaultAudioConfig].
func (t *Transport) AddAudio(b64 string, cfg *AudioConfig) error {
	if cfg == nil {
		c := DefaultAudioConfig
		cfg = &c
	}
	return t.RequestAsync(KindAddAudio, map[string]any{
		"audio":  b64,
		"config": cfg,
	})
}

// ClearAudio discards audio accumulated server-side for the current turn.
func (t *Transport) ClearAudio(ctx context.Context) error {
	_, err := t.Request(ctx, KindClearAudio, nil)
	return err
}

// CheckTurn asks the service whether the user appears to still be speaking.
// The response also flows through the message handler, which is where the
// orchestrator consumes it; the async form keeps the capture path unblocked.
func (t *Transport) CheckTurn() error {
	return t.RequestAsync(KindCheckTurn, nil)
}

// Transcribe requests a transcription of the accumulated audio.
func (t *Transport) Transcribe(ctx context.Context, languageCode string) (Message, error) {
	fields := map[string]any{}
	if languageCode != "" {
		fields["language_code"] = languageCode
	}
	return t.Request(ctx, KindTranscribe, fields)
}

// Interact opens the response stream for the current turn and returns its
// uid, which later identifies the stream to Interrupt.
func (t *Transport) Interact(params InteractParams) (string, error) {
	fields := map[string]any{}
	if params.Text != "" {
		fields["text"] = params.Text
	}
	if len(params.Speakers) > 0 {
		fields["speakers"] = params.Speakers
	}
	if len(params.Context) > 0 {
		fields["context"] = params.Context
	}
	if len(params.OnInput) > 0 {
		fields["on_input"] = params.OnInput
	}
	if len(params.OnInputNonBlocking) > 0 {
		fields["on_input_non_blocking"] = params.OnInputNonBlocking
	}
	if len(params.OnOutput) > 0 {
		fields["on_output"] = params.OnOutput
	}
	if params.AudioOutput != nil {
		fields["audio_output"] = *params.AudioOutput
	}
	if params.LanguageCode != "" {
		fields["language_code"] = params.LanguageCode
	}
	return t.Stream(KindInteract, fields)
}

// Interrupt cuts off the interaction stream identified by targetUID,
// optionally at a character position within its text output.
func (t *Transport) Interrupt(ctx context.Context, targetUID string, atCharacter *int) (Message, error) {
	fields := map[string]any{"target_uid": targetUID}
	if atCharacter != nil {
		fields["at_character"] = *atCharacter
	}
	return t.Request(ctx, KindInterrupt, fields)
}

// Run executes server-side utilities outside an interaction.
func (t *Transport) Run(ctx context.Context, utilities []string, runCtx, bindings map[string]any) (Message, error) {
	fields := map[string]any{}
	if len(utilities) > 0 {
		fields["utilities"] = utilities
	}
	if len(runCtx) > 0 {
		fields["context"] = runCtx
	}
	if len(bindings) > 0 {
		fields["bindings"] = bindings
	}
	return t.Request(ctx, KindRun, fields)
}

// Ping round-trips an application-level ping.
func (t *Transport) Ping(ctx context.Context) error {
	_, err := t.Request(ctx, KindPing, nil)
	return err
}

// MergeConfiguration merges named configuration references into the session.
func (t *Transport) MergeConfiguration(ctx context.Context, references []string) (Message, error) {
	fields := map[string]any{}
	if len(references) > 0 {
		fields["references"] = references
	}
	return t.Request(ctx, KindMergeConfiguration, fields)
}

// GetConfiguration fetches the effective session configuration.
func (t *Transport) GetConfiguration(ctx context.Context) (Message, error) {
	return t.Request(ctx, KindGetConfiguration, nil)
}

// RenderPrompt returns the prompt as the server would render it with the
// given context.
func (t *Transport) RenderPrompt(ctx context.Context, promptCtx map[string]any) (Message, error) {
	fields := map[string]any{}
	if len(promptCtx) > 0 {
		fields["context"] = promptCtx
	}
	return t.Request(ctx, KindRenderPrompt, fields)
}

// AddKeywords registers keywords for detection in user audio.
func (t *Transport) AddKeywords(ctx context.Context, keywords []string) (Message, error) {
	return t.Request(ctx, KindAddKeywords, map[string]any{"keywords": keywords})
}

// RemoveKeywords clears the registered keyword set.
func (t *Transport) RemoveKeywords(ctx context.Context) (Message, error) {
	return t.Request(ctx, KindRemoveKeywords, nil)
}

// DetectKeywords reports which registered keywords the current audio
// contains.
func (t *Transport) DetectKeywords(ctx context.Context) (Message, error) {
	return t.Request(ctx, KindDetectKeywords, nil)
}

// AddSpeaker enrolls a named speaker from a base64 audio sample.
func (t *Transport) AddSpeaker(ctx context.Context, speaker, b64Audio string) (Message, error) {
	return t.Request(ctx, KindAddSpeaker, map[string]any{
		"speaker": speaker,
		"audio":   b64Audio,
	})
}

// RemoveSpeakers clears the enrolled speaker set.
func (t *Transport) RemoveSpeakers(ctx context.Context) (Message, error) {
	return t.Request(ctx, KindRemoveSpeakers, nil)
}

// DetectSpeakers identifies enrolled speakers in the current audio.
func (t *Transport) DetectSpeakers(ctx context.Context) (Message, error) {
	return t.Request(ctx, KindDetectSpeakers, nil)
}
