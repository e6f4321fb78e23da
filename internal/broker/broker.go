// Package broker is the event-routing core (spec section 4.2). It wires
// together the per-app ChannelStore and AliasMap, validates channel
// admission, and fans triggered events out to live sockets and registered
// adapters. It implements wsconn.Router and wsconn.AppResolver so the
// transport layer never needs to know about channels directly.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/pushi-dev/pushi/internal/adapter"
	"github.com/pushi-dev/pushi/internal/alias"
	"github.com/pushi-dev/pushi/internal/app"
	"github.com/pushi-dev/pushi/internal/channelstore"
	"github.com/pushi-dev/pushi/internal/config"
	"github.com/pushi-dev/pushi/internal/errors"
	"github.com/pushi-dev/pushi/internal/logger"
	"github.com/pushi-dev/pushi/internal/signer"
	"github.com/pushi-dev/pushi/internal/wsconn"
)

// appState is the per-app bundle of bookkeeping the broker owns: identity,
// ChannelStore, and AliasMap. Each is guarded independently, matching the
// single-writer-per-app policy from spec section 5.
type appState struct {
	app     *app.App
	store   *channelstore.Store
	aliases *alias.Map
}

// Broker is the event-routing core.
type Broker struct {
	repo     app.Repository
	cfg      config.Config
	adapters []adapter.Adapter
	manager  *wsconn.Manager

	mu    sync.RWMutex
	byID  map[string]*appState
	byKey map[string]string
}

// New creates a Broker. adapters are invoked, in order, on every trigger.
func New(repo app.Repository, cfg config.Config, adapters ...adapter.Adapter) *Broker {
	return &Broker{
		repo:     repo,
		cfg:      cfg,
		adapters: adapters,
		byID:     make(map[string]*appState),
		byKey:    make(map[string]string),
	}
}

// AttachManager wires the ConnectionManager used to fan events out to live
// sockets. Called once during startup, after both are constructed.
func (b *Broker) AttachManager(m *wsconn.Manager) {
	b.manager = m
}

// Load populates the app registry and every adapter's in-memory index from
// the Repository. A failure here aborts startup (spec section 4.8): the
// broker cannot safely serve traffic without knowing which apps exist.
func (b *Broker) Load(ctx context.Context) error {
	apps, err := b.repo.LoadApps(ctx)
	if err != nil {
		return fmt.Errorf("load apps: %w", err)
	}

	b.mu.Lock()
	for _, a := range apps {
		b.registerAppLocked(a)
	}
	b.mu.Unlock()

	personalSubs, err := b.repo.LoadPersonalSubs(ctx)
	if err != nil {
		return fmt.Errorf("load personal subscriptions: %w", err)
	}
	for _, s := range personalSubs {
		if st, ok := b.stateFor(s.AppID); ok {
			st.aliases.Add(alias.PersonalChannelFor(s.UserID), s.Event)
		}
	}

	for _, ad := range b.adapters {
		if err := ad.Load(ctx); err != nil {
			return fmt.Errorf("load %s adapter subscriptions: %w", ad.Name(), err)
		}
	}

	logger.Broker().Info().Int("apps", len(apps)).Int("personal_subs", len(personalSubs)).Msg("broker state loaded")
	return nil
}

func (b *Broker) registerAppLocked(a *app.App) {
	b.byID[a.ID] = &appState{app: a, store: channelstore.New(), aliases: alias.New()}
	b.byKey[a.Key] = a.ID
}

// RegisterApp adds or refreshes a single App record. Used by the HTTP
// control plane right after CreateApp/UpdateApp, since Load only runs at
// startup.
func (b *Broker) RegisterApp(a *app.App) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.byID[a.ID]; ok {
		existing.app = a
		b.byKey[a.Key] = a.ID
		return
	}
	b.registerAppLocked(a)
}

func (b *Broker) stateFor(appID string) (*appState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.byID[appID]
	return st, ok
}

// ResolveKey implements wsconn.AppResolver.
func (b *Broker) ResolveKey(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.byKey[key]
	return id, ok
}

// AppByID exposes a registered App record, used by the HTTP control plane.
func (b *Broker) AppByID(id string) (*app.App, bool) {
	st, ok := b.stateFor(id)
	if !ok {
		return nil, false
	}
	return st.app, true
}

// AppByIDCtx adapts AppByID to the getApp signature the adapter package
// expects.
func (b *Broker) AppByIDCtx(_ context.Context, id string) (*app.App, error) {
	a, ok := b.AppByID(id)
	if !ok {
		return nil, errors.NotFound("app")
	}
	return a, nil
}

// presenceChannelData is the client-supplied "channel_data" object on a
// presence/peer subscribe.
type presenceChannelData struct {
	UserID string `json:"user_id"`
	Peer   bool   `json:"peer,omitempty"`
}

// channelSnapshot is the body of a pusher_internal:subscription_succeeded
// reply (spec section 4.2, step 8).
type channelSnapshot struct {
	Name         string            `json:"name"`
	Members      []memberView      `json:"members,omitempty"`
	Alias        []string          `json:"alias,omitempty"`
	RecentEvents []recentEventView `json:"recent_events,omitempty"`
}

type memberView struct {
	UserID   string          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info,omitempty"`
}

type recentEventView struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Subscribe implements wsconn.Router.
func (b *Broker) Subscribe(conn *wsconn.Connection, channel, auth string, channelData json.RawMessage) error {
	return b.subscribe(conn, channel, auth, channelData, false)
}

func (b *Broker) subscribe(conn *wsconn.Connection, channel, auth string, channelData json.RawMessage, force bool) error {
	st, ok := b.stateFor(conn.AppID())
	if !ok {
		return errors.NotFound("app")
	}

	if isPersonal(channel) {
		for _, concrete := range st.aliases.Get(channel) {
			if err := b.subscribe(conn, concrete, "", nil, true); err != nil {
				return err
			}
		}
		return nil
	}

	if !force && requiresAuth(channel) {
		if err := signer.Verify(auth, st.app.Key, st.app.Secret, conn.ID(), channel); err != nil {
			logger.Security().Warn().Str("channel", channel).Str("socket_id", conn.ID()).Msg("channel auth rejected")
			return fmt.Errorf("auth failed: %w", err)
		}
	}

	var data channelstore.ChannelData
	if isPresence(channel) {
		var payload presenceChannelData
		if len(channelData) > 0 {
			if err := json.Unmarshal(channelData, &payload); err != nil {
				return fmt.Errorf("malformed channel_data")
			}
		}
		if payload.UserID == "" {
			return fmt.Errorf("presence channel_data requires user_id")
		}
		data = channelstore.ChannelData{UserID: payload.UserID, Raw: string(channelData), Peer: payload.Peer}
	}

	if st.store.IsSubscribed(conn.ID(), channel) {
		st.store.Leave(conn.ID(), channel)
	}

	if !force {
		if err := b.checkSubscribeLimits(st, conn, channel); err != nil {
			return err
		}
	}

	isNew := st.store.Join(conn.ID(), channel, data)

	if isPresence(channel) && isNew {
		b.broadcastMemberChange(st, channel, conn.ID(), wsconn.EventMemberAdded, data)
	}

	if data.Peer {
		b.wirePeerChannels(st, conn, channel, data.UserID)
	}

	snapshot := b.buildSnapshot(st, channel)
	conn.SendJSON(wsconn.EventSubscriptionSucceeded, channel, snapshot)
	return nil
}

// checkSubscribeLimits enforces spec section 4.1's MaxChannelsPerSocket and
// MaxSocketsPerChannel bounds on a direct client subscribe. Personal-alias
// expansion and peer-channel auto-wire subscribe the socket as a side
// effect of someone else's action, not a choice the socket itself is
// making, so they go through subscribe with force=true and skip this check.
func (b *Broker) checkSubscribeLimits(st *appState, conn *wsconn.Connection, channel string) error {
	if b.cfg.MaxChannelsPerSocket > 0 && len(st.store.ChannelsOf(conn.ID())) >= b.cfg.MaxChannelsPerSocket {
		return errors.Limit("max channels per socket reached")
	}
	if b.cfg.MaxSocketsPerChannel > 0 && len(st.store.Sockets(channel)) >= b.cfg.MaxSocketsPerChannel {
		return errors.Limit("max sockets per channel reached")
	}
	return nil
}

func (b *Broker) buildSnapshot(st *appState, channel string) channelSnapshot {
	snap := channelSnapshot{Name: channel, Alias: st.aliases.Get(channel)}

	if members, ok := st.store.Snapshot(channel); ok {
		snap.Members = make([]memberView, 0, len(members))
		for _, m := range members {
			snap.Members = append(snap.Members, memberView{UserID: m.UserID, UserInfo: rawOrNil(m.ChannelData.Raw)})
		}
	}

	for _, e := range st.store.RecentEvents(channel) {
		snap.RecentEvents = append(snap.RecentEvents, recentEventView{Event: e.Event, Data: rawOrNil(e.Data)})
	}
	return snap
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

// wirePeerChannels auto-subscribes joining and already-present peer-capable
// connections to the pairwise peer channel for every other distinct
// user_id currently in presenceChannel (spec section 4.2, step 7).
func (b *Broker) wirePeerChannels(st *appState, conn *wsconn.Connection, presenceChannel, userID string) {
	for _, otherUser := range st.store.UserIDsIn(presenceChannel) {
		if otherUser == userID {
			continue
		}
		peerChannel := peerChannelName(presenceChannel, userID, otherUser)

		if err := b.subscribe(conn, peerChannel, "", nil, true); err != nil {
			logger.Broker().Error().Err(err).Str("channel", peerChannel).Msg("failed to auto-subscribe joining peer")
		}

		for _, socketID := range st.store.PeerCapableSockets(presenceChannel, userID) {
			if b.manager == nil {
				continue
			}
			other, ok := b.manager.Connection(conn.AppID(), socketID)
			if !ok {
				continue
			}
			if err := b.subscribe(other, peerChannel, "", nil, true); err != nil {
				logger.Broker().Error().Err(err).Str("channel", peerChannel).Msg("failed to auto-subscribe peer")
			}
		}
	}
}

// Unsubscribe implements wsconn.Router.
func (b *Broker) Unsubscribe(conn *wsconn.Connection, channel string) error {
	st, ok := b.stateFor(conn.AppID())
	if !ok {
		return errors.NotFound("app")
	}

	b.unsubscribeOne(st, conn.ID(), channel)
	conn.SendJSON(wsconn.EventUnsubscriptionSucceeded, channel, channelSnapshot{Name: channel})
	return nil
}

func (b *Broker) unsubscribeOne(st *appState, socketID, channel string) {
	left, userID := st.store.Leave(socketID, channel)
	if left {
		b.broadcastMemberChange(st, channel, socketID, wsconn.EventMemberRemoved, channelstore.ChannelData{UserID: userID})
		b.unwirePeerChannels(st, channel, userID)
	}
}

// unwirePeerChannels drops the departed user's peer channel membership:
// once they are gone, the pairwise channel between them and every other
// member has nothing left to carry.
func (b *Broker) unwirePeerChannels(st *appState, presenceChannel, userID string) {
	if userID == "" {
		return
	}
	for _, otherUser := range st.store.UserIDsIn(presenceChannel) {
		peerChannel := peerChannelName(presenceChannel, userID, otherUser)
		for _, sid := range st.store.Sockets(peerChannel) {
			st.store.Leave(sid, peerChannel)
		}
	}
}

// broadcastMemberChange sends a pusher_internal:member_added or
// member_removed frame to every other connection currently in channel.
func (b *Broker) broadcastMemberChange(st *appState, channel, excludeSocketID, event string, data channelstore.ChannelData) {
	if b.manager == nil {
		return
	}
	payload := memberView{UserID: data.UserID, UserInfo: rawOrNil(data.Raw)}
	for _, socketID := range st.store.Sockets(channel) {
		if socketID == excludeSocketID {
			continue
		}
		conn, ok := b.manager.Connection(appIDFor(st), socketID)
		if !ok {
			continue
		}
		conn.SendJSON(event, channel, payload)
	}
}

func appIDFor(st *appState) string {
	return st.app.ID
}

// unionStrings merges two slices, deduplicating.
func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Latest implements wsconn.Router: it replies with the bounded recent-event
// history for channel (spec section 4.1's optional pusher:latest path).
func (b *Broker) Latest(conn *wsconn.Connection, channel string, skip, count int) error {
	st, ok := b.stateFor(conn.AppID())
	if !ok {
		return errors.NotFound("app")
	}

	events := st.store.RecentEvents(channel)
	if skip > 0 && skip < len(events) {
		events = events[skip:]
	} else if skip >= len(events) {
		events = nil
	}
	if count > 0 && count < len(events) {
		events = events[:count]
	}

	views := make([]recentEventView, 0, len(events))
	for _, e := range events {
		views = append(views, recentEventView{Event: e.Event, Data: rawOrNil(e.Data)})
	}
	conn.SendJSON(wsconn.EventLatestReply, channel, map[string]interface{}{"events": views})
	return nil
}

// ClientEvent implements wsconn.Router: it validates the socket is
// currently a member of channel, then re-broadcasts to the rest of the
// channel and fans out to adapters through Trigger, without admin
// verification (spec section 4.1's clientEvent dispatch path). Client
// events are not persisted: they reach neither the event log nor the
// recent-events ring.
func (b *Broker) ClientEvent(conn *wsconn.Connection, event, channel string, data json.RawMessage) error {
	st, ok := b.stateFor(conn.AppID())
	if !ok {
		return errors.NotFound("app")
	}
	if !st.store.IsSubscribed(conn.ID(), channel) {
		return fmt.Errorf("client event on channel %q the socket has not joined", channel)
	}

	return b.Trigger(context.Background(), conn.AppID(), event, string(data), []string{channel}, conn.ID(), false, false)
}

// Disconnect implements wsconn.Router: it tears down every channel the
// connection had joined (spec section 4.7, "On CLOSED").
func (b *Broker) Disconnect(conn *wsconn.Connection) {
	st, ok := b.stateFor(conn.AppID())
	if !ok {
		return
	}

	channels := st.store.ChannelsOf(conn.ID())
	departures := st.store.LeaveAll(conn.ID())
	for _, channel := range channels {
		userID, left := departures[channel]
		if !left {
			continue
		}
		b.broadcastMemberChange(st, channel, conn.ID(), wsconn.EventMemberRemoved, channelstore.ChannelData{UserID: userID})
		b.unwirePeerChannels(st, channel, userID)
	}
}

// Trigger publishes an event to one or more channels (spec section 4.2,
// "trigger"). Used by both ClientEvent and the HTTP control plane's
// POST /apps/{id}/events.
func (b *Broker) Trigger(ctx context.Context, appID, event, data string, channels []string, ownerID string, persist, echo bool) error {
	st, ok := b.stateFor(appID)
	if !ok {
		return errors.NotFound("app")
	}

	// Step 1 of trigger (spec section 4.2): normalize data to a JSON
	// string once, then persist and deliver that normalized form so the
	// live fan-out, the event log, and Latest's replay all agree.
	normalized := normalizeEventData(data)

	for _, channel := range channels {
		if ownerID != "" && !st.store.IsSubscribed(ownerID, channel) {
			return errors.Auth("owner is not subscribed to channel")
		}

		if persist {
			rec := app.EventRecord{MID: uuid.New().String(), AppID: appID, Channel: channel, OwnerID: ownerID, Data: normalized}
			subscribers := unionStrings(st.store.UserIDsIn(channel), st.aliases.UserIDsFor(channel))
			if err := b.repo.AppendEvent(ctx, rec, subscribers); err != nil {
				logger.Broker().Error().Err(err).Str("channel", channel).Msg("failed to persist event, continuing with live delivery")
			}
			st.store.PushRecent(channel, event, normalized)
		}

		b.deliverLive(st, channel, event, ownerID, echo, normalized)
		b.deliverAdapters(ctx, appID, channel, event, data)
	}
	return nil
}

// normalizeEventData implements spec section 4.2 step 1: a payload that is
// already a JSON string is left unchanged; any other JSON value (object,
// array, number, bool) is re-encoded as the JSON string whose content is
// that value's original text, matching original_source's uniform
// data=json.dumps(...) framing (src/pushi/net/server.py).
func normalizeEventData(data string) string {
	var s string
	if json.Unmarshal([]byte(data), &s) == nil {
		return data
	}
	b, err := json.Marshal(data)
	if err != nil {
		return data
	}
	return string(b)
}

func (b *Broker) deliverLive(st *appState, channel, event, ownerID string, echo bool, data string) {
	if b.manager == nil {
		return
	}
	for _, socketID := range st.store.Sockets(channel) {
		if ownerID != "" && socketID == ownerID && !echo {
			continue
		}
		conn, ok := b.manager.Connection(appIDFor(st), socketID)
		if !ok {
			continue
		}
		conn.SendRaw(event, channel, json.RawMessage(data))
	}
}

// AddPersonalAlias records a personal-channel alias durably and in the live
// AliasMap, so a subsequent personal-channel subscribe expands to it
// immediately (spec section 4.2, "AliasMap updates").
func (b *Broker) AddPersonalAlias(ctx context.Context, appID, userID, channel string) error {
	st, ok := b.stateFor(appID)
	if !ok {
		return errors.NotFound("app")
	}
	if err := b.repo.AddPersonalSub(ctx, app.PersonalSub{AppID: appID, UserID: userID, Event: channel}); err != nil {
		return err
	}
	st.aliases.Add(alias.PersonalChannelFor(userID), channel)
	return nil
}

// RemovePersonalAlias is the inverse of AddPersonalAlias.
func (b *Broker) RemovePersonalAlias(ctx context.Context, appID, userID, channel string) error {
	st, ok := b.stateFor(appID)
	if !ok {
		return errors.NotFound("app")
	}
	if err := b.repo.RemovePersonalSub(ctx, app.PersonalSub{AppID: appID, UserID: userID, Event: channel}); err != nil {
		return err
	}
	st.aliases.Remove(alias.PersonalChannelFor(userID), channel)
	return nil
}

// AdapterByName exposes a registered adapter for the HTTP control plane's
// subscription-management endpoints.
func (b *Broker) AdapterByName(name string) (adapter.Adapter, bool) {
	for _, ad := range b.adapters {
		if ad.Name() == name {
			return ad, true
		}
	}
	return nil, false
}

func (b *Broker) deliverAdapters(ctx context.Context, appID, channel, event, data string) {
	env := adapter.Envelope{Event: event, Channel: channel, Data: json.RawMessage(data)}
	for _, ad := range b.adapters {
		results := ad.Send(ctx, appID, channel, env)
		for _, r := range results {
			if r.Err != nil {
				logger.Adapter().Error().Str("adapter", ad.Name()).Str("target", r.Target).Err(r.Err).Msg("delivery failed")
			}
		}
	}
}
