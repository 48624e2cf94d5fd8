package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sonara-ai/sonara-go/internal/observe"
	"github.com/sonara-ai/sonara-go/internal/transport"
	"github.com/sonara-ai/sonara-go/pkg/player"
)

// All handlers in this file run on the dispatch queue goroutine, one at a
// time, in arrival order.

// live reports whether the collaborators are still attached; Stop nils them,
// and events queued before the teardown must not dereference the remains.
func (c *Client) live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport != nil && c.player != nil
}

// handleMessage routes one server envelope. The kind discriminator — and,
// within interact, the event field — is the only source of truth.
func (c *Client) handleMessage(msg transport.Message) {
	if !c.live() {
		return
	}
	switch msg.Kind {
	case transport.KindCheckTurn:
		c.handleCheckTurn(msg)
	case transport.KindInteract:
		c.handleInteractEvent(msg)
	case transport.KindClose, transport.KindError:
		// Stream termination is handled at the transport layer.
	default:
		// Echo responses to catalogue requests need no orchestration.
	}
}

// handleCheckTurn acts on the server's end-of-turn judgement.
func (c *Client) handleCheckTurn(msg transport.Message) {
	if msg.IsUserStillSpeaking == nil {
		return
	}

	// While the assistant is talking (or paused), an end-of-turn judgement
	// is an accidental pickup; give the assistant a chance to finish.
	switch c.State() {
	case StatePlaying, StatePaused:
		return
	}

	if *msg.IsUserStillSpeaking {
		// The user resumed before the server committed the turn; go back to
		// listening for more audio.
		c.pipeline.Reset()
		c.setState(StateListening)
		return
	}

	if c.State() != StateWaiting {
		return
	}

	// Commit the turn: capture stops, the accumulated audio becomes the
	// interaction input, and the state stays waiting until audio arrives.
	if _, err := c.pipeline.Stop(); err != nil {
		slog.Warn("client: stop pipeline on turn commit", "err", err)
	}
	uid, err := c.transport.Interact(transport.InteractParams{
		Context: c.opts.Context,
	})
	if err != nil {
		c.fail(classify(err), err)
		return
	}
	c.mu.Lock()
	c.interactionUID = uid
	c.turnStart = time.Now()
	c.mu.Unlock()
	c.player.Reset()
}

// handleInteractEvent routes one event of the active interaction stream.
func (c *Client) handleInteractEvent(msg transport.Message) {
	switch msg.Event {
	case transport.EventInteractionStarted:
		c.mu.Lock()
		c.interactionUID = msg.UID
		c.mu.Unlock()

	case transport.EventText:
		if c.hooks.OnText != nil {
			c.hooks.OnText(msg.Text)
		}

	case transport.EventTextComplete:
		if c.hooks.OnTextComplete != nil {
			c.hooks.OnTextComplete(msg.Text)
		}

	case transport.EventAudio:
		if !c.opts.Capabilities.Audio {
			return
		}
		if err := c.player.Enqueue(msg.Audio); err != nil {
			slog.Warn("client: dropping malformed audio event", "err", err)
		}

	case transport.EventAudioComplete:
		if c.opts.Capabilities.Audio {
			c.player.MarkComplete()
		}

	case transport.EventSubtitles:
		if c.opts.Capabilities.Subtitles && msg.Subtitles != nil {
			c.showSubtitle(*msg.Subtitles)
		}

	case transport.EventImage:
		if c.hooks.OnImageChange != nil {
			c.hooks.OnImageChange(msg.Image)
		}

	case transport.EventViseme:
		if c.opts.Capabilities.Avatar {
			if c.hooks.OnViseme != nil {
				c.hooks.OnViseme(msg.Viseme)
			}
			if msg.Animation != "" && c.hooks.OnAvatarAnimation != nil {
				c.hooks.OnAvatarAnimation(msg.Animation)
			}
		}

	case transport.EventData:
		if c.hooks.OnMessage != nil && len(msg.Data) > 0 {
			c.hooks.OnMessage(string(msg.Data))
		}

	case transport.EventInteractionError:
		// The stream survives; surface without a state change.
		if c.hooks.OnError != nil {
			c.hooks.OnError(ErrServer, errors.New(msg.Error))
		}

	case transport.EventInteractionComplete:
		c.handleInteractionCompleteEvent()

	default:
		slog.Debug("client: unhandled interact event", "event", msg.Event)
	}
}

// handleInteractionCompleteEvent defers the cleanup while playback is
// active; otherwise it runs immediately. Out-of-order servers may deliver
// interaction_complete after Finished — then the deferred flag is down and
// the direct path runs.
func (c *Client) handleInteractionCompleteEvent() {
	switch c.State() {
	case StatePlaying, StatePaused:
		c.mu.Lock()
		c.interactionCompletePending = true
		c.mu.Unlock()
	default:
		c.handleInteractionComplete()
	}
}

// handleInteractionComplete is the single idempotent end-of-turn cleanup:
// cancel the about-to-complete latch (via the player reset), re-arm the
// input one-shot, flush audio buffered during the pre-arm window, and
// settle in idle. Safe to run twice.
func (c *Client) handleInteractionComplete() {
	c.mu.Lock()
	c.interactionCompletePending = false
	c.mu.Unlock()

	c.player.Reset()
	c.pipeline.Reset()
	c.pipeline.FlushBuffered()
	c.cancelSubtitleTimers()
	c.setState(StateIdle)
}

// handlePlayerEvent folds playback lifecycle events into the state machine.
func (c *Client) handlePlayerEvent(ev player.Event) {
	if !c.live() {
		return
	}
	switch ev {
	case player.EventReady:
		// First audio of the turn: start playback. The state commits on the
		// Playing event that follows synchronously.
		if c.State() == StateWaiting {
			c.player.Play()
		}

	case player.EventPlaying:
		c.setState(StatePlaying)

	case player.EventAboutToComplete:
		// Pre-arm for barge-in: buffer chunks instead of sending them, and
		// bring the capture path up without blocking the dispatch queue.
		if c.State() != StatePlaying {
			return
		}
		if !c.opts.InputCapabilities.Audio {
			return
		}
		c.pipeline.EnableBuffering()
		go func() {
			if err := c.pipeline.Start(); err != nil {
				c.queue.push(func() { c.fail(ErrMicDenied, err) })
			}
		}()

	case player.EventFinished:
		c.handlePlaybackFinished()
	}
}

// handlePlaybackFinished closes the playback half of the turn.
func (c *Client) handlePlaybackFinished() {
	c.pipeline.Reset()

	c.mu.Lock()
	deferred := c.interactionCompletePending
	turnStart := c.turnStart
	c.turnStart = time.Time{}
	c.mu.Unlock()

	if !turnStart.IsZero() {
		observe.Default().TurnDuration.Record(context.Background(), time.Since(turnStart).Seconds())
	}

	if deferred {
		c.handleInteractionComplete()
		return
	}
	c.setState(StateIdle)
}

// handleSpeaking folds user voice-activity transitions into the state
// machine.
func (c *Client) handleSpeaking(speaking bool) {
	switch {
	case speaking && c.State() == StateListening:
		c.setState(StateUserSpeaking)
	case !speaking && c.State() == StateUserSpeaking:
		c.setState(StateListening)
	}
}

// handleInputComplete moves the committed user turn into waiting. The
// pipeline has already issued check_turn.
func (c *Client) handleInputComplete() {
	switch c.State() {
	case StateListening, StateUserSpeaking, StateIdle:
		c.setState(StateWaiting)
	}
}

// handleTransportError distinguishes per-stream server errors, which leave
// the state machine alone, from channel-level failures, which are fatal.
func (c *Client) handleTransportError(err error) {
	var serverErr *transport.ServerError
	if errors.As(err, &serverErr) {
		if c.hooks.OnError != nil {
			c.hooks.OnError(ErrServer, err)
		}
		return
	}
	c.fail(classify(err), err)
}

// showSubtitle replaces the current subtitle line and schedules the word
// highlights the server timed against the start of the line.
func (c *Client) showSubtitle(sub transport.Subtitle) {
	if c.hooks.OnSubtitleChange != nil {
		c.hooks.OnSubtitleChange(sub)
	}
	if c.hooks.OnSubtitleWordHighlight == nil {
		return
	}

	c.cancelSubtitleTimers()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, word := range sub.Words {
		w := word
		timer := time.AfterFunc(time.Duration(w.StartMs)*time.Millisecond, func() {
			c.queue.push(func() {
				if c.hooks.OnSubtitleWordHighlight != nil {
					c.hooks.OnSubtitleWordHighlight(w)
				}
			})
		})
		c.subtitleTimers = append(c.subtitleTimers, timer)
	}
}

// cancelSubtitleTimers stops all pending word-highlight timers.
func (c *Client) cancelSubtitleTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.subtitleTimers {
		t.Stop()
	}
	c.subtitleTimers = nil
}
