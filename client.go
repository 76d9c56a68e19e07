// Package collabcore is the headless real-time core of the collaboration
// client: one Client per authenticated identity, one ChannelView per mounted
// channel. The view wires the persistent socket, the reconciled message
// store, the call coordinator, the call-side chat, and the voice-note
// recorder together, and guarantees complete teardown on Leave.
package collabcore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/teamgrid/collabcore/internal/api"
	"github.com/teamgrid/collabcore/internal/call"
	"github.com/teamgrid/collabcore/internal/callchat"
	"github.com/teamgrid/collabcore/internal/capture"
	"github.com/teamgrid/collabcore/internal/config"
	"github.com/teamgrid/collabcore/internal/model"
	"github.com/teamgrid/collabcore/internal/store"
	"github.com/teamgrid/collabcore/internal/transport"
)

// Client is the per-identity entry point. Construct with New, then open one
// ChannelView per visible channel.
type Client struct {
	cfg      config.Config
	token    string
	selfID   string
	selfName string

	api   *api.Client
	cache *store.Cache // nil when disabled

	// OnError receives non-fatal errors from every view of this client.
	// Defaults to log output.
	OnError func(error)
}

// New creates a Client. The cache is opened eagerly so a bad path fails
// here, not on first join.
func New(cfg config.Config, token, selfID, selfName string) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:      cfg,
		token:    token,
		selfID:   selfID,
		selfName: selfName,
		api:      api.New(cfg.Server.APIBase, token),
	}
	if cfg.Cache.Path != "" {
		cache, err := store.OpenCache(cfg.Cache.Path, cfg.Cache.PerChannel)
		if err != nil {
			return nil, fmt.Errorf("open message cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// API exposes the REST client for thin UI glue that lives outside the core.
func (c *Client) API() *api.Client { return c.api }

// Close releases client-wide resources. Views must be left first.
func (c *Client) Close() error {
	if c.cache != nil {
		return c.cache.Close()
	}
	return nil
}

func (c *Client) report(err error) {
	if c.OnError != nil {
		c.OnError(err)
		return
	}
	log.Printf("CORE: %v", err)
}

// ChannelView is one mounted channel: socket session, message store, call
// coordinator, call chat, recorder. All state is torn down by Leave.
type ChannelView struct {
	client    *Client
	channelID string

	session *transport.Session
	store   *store.Store
	coord   *call.Coordinator
	chat    *callchat.State
	rec     *capture.Recorder

	mu         sync.Mutex
	channel    *model.Channel
	activeCall *model.Call // latest call seen on the call topic
	left       bool
	cancels    []func()
	sigCancel  func() // per-call signaling subscription
}

// JoinChannel mounts channelID: connects the socket, primes the store from
// the cache, fetches the fresh page, and subscribes the channel topics.
// Fetch failures are non-fatal — the view opens with last-known data and the
// error is surfaced.
func (c *Client) JoinChannel(ctx context.Context, channelID string) (*ChannelView, error) {
	v := &ChannelView{
		client:    c,
		channelID: channelID,
		store:     store.New(channelID, c.cache),
		chat:      callchat.New(c.cfg.Media.ChatBuffer),
		rec:       capture.NewRecorder(capture.NewNativeMic()),
	}

	v.session = transport.New(transport.Options{
		URL:            c.cfg.Server.SocketURL,
		Token:          c.token,
		ReconnectDelay: c.cfg.ReconnectDelay(),
		Heartbeat:      c.cfg.HeartbeatInterval(),
		OnError:        c.report,
	})

	engine := call.NewPionEngine(c.cfg.Media.ICEServers)
	v.coord = call.NewCoordinator(c.selfID, c.api, signalSender{v}, engine, c.report)

	v.session.Connect(ctx)
	v.subscribeTopics()

	// Cached page first, then the authoritative fetch.
	v.store.Prime()
	if msgs, err := c.api.Messages(ctx, channelID); err != nil {
		c.report(fmt.Errorf("load messages for %s: %w", channelID, err))
	} else if !v.isLeft() {
		v.store.LoadInitial(msgs)
	}
	if ch, err := c.api.Channel(ctx, channelID); err != nil {
		c.report(fmt.Errorf("load channel %s: %w", channelID, err))
	} else if !v.isLeft() {
		v.mu.Lock()
		v.channel = ch
		v.mu.Unlock()
	}

	return v, nil
}

// subscribeTopics registers the three per-channel subscriptions. The
// signaling topic is per-call and handled when a call starts.
func (v *ChannelView) subscribeTopics() {
	cancelMsgs := v.session.Subscribe("/topic/messages."+v.channelID, func(f transport.Frame) {
		if v.isLeft() {
			return
		}
		var m model.Message
		if err := json.Unmarshal(f.Body, &m); err != nil {
			v.client.report(fmt.Errorf("bad message frame: %w", err))
			return
		}
		v.store.ApplyInbound(m)
	})

	cancelCalls := v.session.Subscribe("/topic/calls."+v.channelID, func(f transport.Frame) {
		if v.isLeft() {
			return
		}
		var evt model.Call
		if err := json.Unmarshal(f.Body, &evt); err != nil {
			v.client.report(fmt.Errorf("bad call frame: %w", err))
			return
		}
		v.mu.Lock()
		if evt.Status == model.CallEnded || evt.Status == model.CallFailed {
			if v.activeCall != nil && v.activeCall.ID == evt.ID {
				v.activeCall = nil
			}
		} else {
			v.activeCall = &evt
		}
		v.mu.Unlock()
		v.coord.HandleCallEvent(evt)
	})

	cancelChat := v.session.Subscribe("/topic/chat."+v.channelID, func(f transport.Frame) {
		if v.isLeft() {
			return
		}
		var line model.ChatLine
		if err := json.Unmarshal(f.Body, &line); err != nil {
			v.client.report(fmt.Errorf("bad chat frame: %w", err))
			return
		}
		v.chat.Append(line)
	})

	v.mu.Lock()
	v.cancels = append(v.cancels, cancelMsgs, cancelCalls, cancelChat)
	v.mu.Unlock()
}

// Store exposes the reconciled message list.
func (v *ChannelView) Store() *store.Store { return v.store }

// Chat exposes the call-side chat state.
func (v *ChannelView) Chat() *callchat.State { return v.chat }

// Calls exposes the call coordinator.
func (v *ChannelView) Calls() *call.Coordinator { return v.coord }

// Recorder exposes the voice-note recorder.
func (v *ChannelView) Recorder() *capture.Recorder { return v.rec }

// Connected reports the socket link state.
func (v *ChannelView) Connected() bool { return v.session.Connected() }

// ActiveCall returns the latest non-ended call seen on the call topic, which
// may be a call this client has not joined.
func (v *ChannelView) ActiveCall() (model.Call, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.activeCall == nil {
		return model.Call{}, false
	}
	return *v.activeCall, true
}

// SendText publishes a plain text message. Delivery is confirmed by the
// broadcast on the message topic, not by any response here.
func (v *ChannelView) SendText(text string, replyTo model.FlexID) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("refusing to send empty message")
	}
	v.session.Publish("/app/send-message", map[string]any{
		"channelId": v.channelID,
		"senderId":  v.client.selfID,
		"text":      text,
		"replyToId": replyTo,
	}, nil)
	return nil
}

// SendFile uploads an attachment with a "sending…" placeholder. The
// placeholder is removed when the upload resolves either way; the real
// message arrives via the message topic.
func (v *ChannelView) SendFile(ctx context.Context, filename, mimeType string, data []byte) error {
	draft := model.Message{
		ChannelID: model.FlexID(v.channelID),
		SenderID:  model.FlexID(v.client.selfID),
		Sender:    v.client.selfName,
		Text:      filename,
		MimeType:  mimeType,
		Kind:      kindForMime(mimeType),
	}
	tempID := v.store.OptimisticAppend(draft)
	err := v.client.api.Upload(ctx, v.channelID, filename, mimeType, bytes.NewReader(data), 0)
	v.store.OptimisticRemove(tempID)
	if err != nil {
		return fmt.Errorf("upload %s: %w", filename, err)
	}
	return nil
}

// Edit, Delete, Pin, React, Unreact are confirmation-driven: no local state
// changes until the broadcast event lands.

func (v *ChannelView) Edit(ctx context.Context, id model.FlexID, text string) error {
	return v.client.api.EditMessage(ctx, id.String(), text)
}

func (v *ChannelView) Delete(ctx context.Context, id model.FlexID) error {
	return v.client.api.DeleteMessage(ctx, id.String())
}

func (v *ChannelView) SetPinned(ctx context.Context, id model.FlexID, pinned bool) error {
	return v.client.api.SetPinned(ctx, id.String(), pinned)
}

func (v *ChannelView) React(ctx context.Context, id model.FlexID, emoji string) error {
	return v.client.api.React(ctx, id.String(), emoji)
}

func (v *ChannelView) Unreact(ctx context.Context, id model.FlexID, emoji string) error {
	return v.client.api.Unreact(ctx, id.String(), emoji)
}

// StartCall initiates a call: media and call creation first, then the
// signaling subscription, then the offers — an answer from a fast responder
// always finds the subscription in place. The recorder must not hold the
// microphone; an in-progress recording is cancelled first so the two never
// own the same device.
func (v *ChannelView) StartCall(ctx context.Context, kind model.CallKind) error {
	v.rec.Cancel()

	v.mu.Lock()
	channel := v.channel
	v.mu.Unlock()
	if channel == nil {
		return fmt.Errorf("channel metadata not loaded yet")
	}

	// Offer against the freshest membership available; cached metadata can
	// predate joins. Self is ensured present so the participant list the
	// coordinator reports is complete.
	ch := *channel
	if ids, err := v.client.api.Participants(ctx, v.channelID); err == nil && len(ids) > 0 {
		ch.MemberIDs = ids
	}
	if !ch.HasMember(v.client.selfID) {
		ch.MemberIDs = append(ch.MemberIDs, model.FlexID(v.client.selfID))
	}

	created, err := v.coord.Begin(ctx, &ch, kind)
	if err != nil {
		return err
	}
	cancel := v.session.Subscribe("/topic/signaling."+created.ID.String(), func(f transport.Frame) {
		if v.isLeft() {
			return
		}
		var sig model.Signal
		if err := json.Unmarshal(f.Body, &sig); err != nil {
			v.client.report(fmt.Errorf("bad signal frame: %w", err))
			return
		}
		v.coord.HandleSignal(sig)
	})

	v.mu.Lock()
	if v.sigCancel != nil {
		v.sigCancel()
	}
	v.sigCancel = cancel
	v.mu.Unlock()

	v.coord.Announce(&ch)
	return nil
}

// EndCall leaves the active call and drops the signaling subscription.
func (v *ChannelView) EndCall(ctx context.Context) {
	v.coord.End(ctx)
	v.mu.Lock()
	cancel := v.sigCancel
	v.sigCancel = nil
	v.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SendChat publishes one ephemeral call-side chat line.
func (v *ChannelView) SendChat(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("refusing to send empty chat line")
	}
	v.session.Publish("/app/chat."+v.channelID, map[string]any{
		"senderId":   v.client.selfID,
		"senderName": v.client.selfName,
		"text":       text,
	}, nil)
	return nil
}

// SendVoiceNote finalizes the current recording and uploads it. The
// wall-clock counter is the authoritative duration; the clip's own metadata
// is the fallback; with neither usable the send is refused.
func (v *ChannelView) SendVoiceNote(ctx context.Context, probe capture.DurationProbe) error {
	clip, ok := v.rec.Clip()
	if !ok {
		c, err := v.rec.Stop()
		if err != nil {
			return fmt.Errorf("no recording to send: %w", err)
		}
		clip = c
	}
	secs, err := v.rec.SendDuration(probe)
	if err != nil {
		return err
	}

	draft := model.Message{
		ChannelID: model.FlexID(v.channelID),
		SenderID:  model.FlexID(v.client.selfID),
		Sender:    v.client.selfName,
		Kind:      model.KindAudio,
		MimeType:  clip.MimeType,
		Duration:  secs,
	}
	tempID := v.store.OptimisticAppend(draft)
	err = v.client.api.Upload(ctx, v.channelID, "voice-note", clip.MimeType, bytes.NewReader(clip.Data), secs)
	v.store.OptimisticRemove(tempID)
	if err != nil {
		return fmt.Errorf("upload voice note: %w", err)
	}
	v.rec.Cancel()
	return nil
}

// Leave unmounts the view: all topic handlers unsubscribed, the session
// deactivated, capture stopped with devices released, and every peer
// connection closed. Idempotent. Results of in-flight requests arriving
// after Leave are discarded.
func (v *ChannelView) Leave(ctx context.Context) {
	v.mu.Lock()
	if v.left {
		v.mu.Unlock()
		return
	}
	v.left = true
	cancels := v.cancels
	if v.sigCancel != nil {
		cancels = append(cancels, v.sigCancel)
	}
	v.cancels = nil
	v.sigCancel = nil
	v.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	v.coord.End(ctx)
	v.coord.Close()
	v.rec.Cancel()
	v.session.Close()
	v.chat.Close()
	v.store.Close()
	log.Printf("CORE [%s]: view unmounted", v.channelID)
}

func (v *ChannelView) isLeft() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.left
}

// signalSender adapts the view's session to the coordinator's SignalSender.
type signalSender struct{ v *ChannelView }

func (s signalSender) SendSignal(callID string, sig model.Signal) {
	s.v.session.Publish("/app/signaling."+callID, sig, nil)
}

// kindForMime maps an upload's mime type onto the message kind.
func kindForMime(mime string) model.MessageKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return model.KindImage
	case strings.HasPrefix(mime, "video/"):
		return model.KindVideo
	case strings.HasPrefix(mime, "audio/"):
		return model.KindAudio
	default:
		return model.KindFile
	}
}
