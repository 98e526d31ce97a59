package weblink

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the session state of a Panel.
type State int

const (
	StateDisconnected State = iota
	StateConnected          // waiting for the config reply
	StateBootstrapping      // capability requests outstanding
	StateSteady
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateBootstrapping:
		return "bootstrapping"
	case StateSteady:
		return "steady"
	}

	return "disconnected"
}

// CommandKind enumerates what a user can ask the panel to do.
type CommandKind int

const (
	CommandCommit    CommandKind = iota // set Key to Value (toggled for booleans), then get it
	CommandRefresh                      // get Key
	CommandSetFilter                    // set log_filter to Filter, then get log
	CommandFetchLog                     // get log
)

type Command struct {
	Kind   CommandKind
	Key    string
	Value  string
	Filter LogFilter
}

// Observer is told about every applied property update.
type Observer interface {
	PropertyChanged(p Property)
}

type PanelOptions struct {
	Identity   Identity
	LogRefresh time.Duration // 0 disables periodic log queries
	Logger     zerolog.Logger
}

const (
	inboundQueueSize = 256
	commandQueueSize = 16
)

// Panel is the application context: it owns the registry and log view and
// turns inbound messages and user commands into requests on its sender.
// All mutation happens on the goroutine running Run; the snapshot methods
// may be called from anywhere.
type Panel struct {
	mu          sync.RWMutex
	sender      Sender
	id          Identity
	registry    *Registry
	logs        *LogView
	description string
	state       State
	outstanding map[string]bool
	observers   []Observer

	refresh  time.Duration
	inbound  chan Message
	commands chan commandRequest
	done     chan struct{}
	once     sync.Once
	log      zerolog.Logger
}

type commandRequest struct {
	cmd   Command
	reply chan error
}

func NewPanel(sender Sender, opts PanelOptions) *Panel {
	if opts.Identity == (Identity{}) {
		opts.Identity = DefaultIdentity()
	}

	return &Panel{
		sender:      sender,
		id:          opts.Identity,
		registry:    NewRegistry(),
		logs:        NewLogView(sender, opts.Identity),
		outstanding: make(map[string]bool),
		refresh:     opts.LogRefresh,
		inbound:     make(chan Message, inboundQueueSize),
		commands:    make(chan commandRequest, commandQueueSize),
		done:        make(chan struct{}),
		log:         opts.Logger.With().Str("component", "panel").Logger(),
	}
}

// AddObserver registers o. Call before Run.
func (p *Panel) AddObserver(o Observer) {
	p.observers = append(p.observers, o)
}

// Receive queues an inbound message for Run. It is the link's receive
// callback and blocks only while the queue is full.
func (p *Panel) Receive(m Message) {
	select {
	case p.inbound <- m:
	case <-p.done:
	}
}

// Submit hands cmd to Run and waits for it to be executed.
func (p *Panel) Submit(ctx context.Context, cmd Command) error {
	req := commandRequest{cmd: cmd, reply: make(chan error, 1)}

	select {
	case p.commands <- req:
	case <-p.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-p.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the panel's event loop. The sender is expected to be connected
// already. Run returns when ctx ends or, if the sender has a Done channel,
// when the connection goes away; the panel is then disconnected for good.
func (p *Panel) Run(ctx context.Context) error {
	defer p.once.Do(func() { close(p.done) })

	p.setState(StateConnected)
	defer p.setState(StateDisconnected)

	var linkDone <-chan struct{}
	if c, ok := p.sender.(interface{ Done() <-chan struct{} }); ok {
		linkDone = c.Done()
	}

	var tick <-chan time.Time
	if p.refresh > 0 {
		ticker := time.NewTicker(p.refresh)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case m := <-p.inbound:
			p.Handle(m)

		case req := <-p.commands:
			req.reply <- p.Execute(req.cmd)

		case <-tick:
			if p.State() == StateSteady {
				p.mu.Lock()
				_ = p.logs.Refresh()
				p.mu.Unlock()
			}

		case <-linkDone:
			p.log.Warn().Msg("Link closed, panel disconnected")
			return ErrNotConnected

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Handle dispatches one inbound message. Errors are logged and swallowed so
// that one bad message never stops the panel.
func (p *Panel) Handle(m Message) {
	err := Dispatch(m, p)

	var unknown *UnknownNodeError

	switch {
	case err == nil:
	case errors.As(err, &unknown):
		p.log.Debug().Err(err).Str("sender", m.Sender).Msg("Ignoring update")
	default:
		p.log.Warn().Err(err).Stringer("message", m).Msg("Ignoring message")
	}
}

func (p *Panel) HandleConfig(cfg Configuration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.description = cfg.Description

	nodes := append([]string(nil), cfg.Nodes...)
	if !slices.Contains(nodes, p.id.Backplane) {
		nodes = append(nodes, p.id.Backplane)
	}

	for _, urn := range nodes {
		p.outstanding[urn] = true
		_ = p.sender.Send(p.id.Get(urn, KeyCapabilities))
	}

	p.state = StateBootstrapping

	p.log.Info().Int("nodes", len(nodes)).Msg("Configuration received, requesting capabilities")
}

func (p *Panel) HandleCapabilities(node string, caps Capabilities) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, prop := range p.registry.Register(node, caps) {
		_ = p.sender.Send(p.id.Get(prop.Node, prop.Name))
	}

	delete(p.outstanding, node)

	if p.state == StateBootstrapping && len(p.outstanding) == 0 {
		p.state = StateSteady
		p.log.Info().Int("properties", p.registry.Len()).Msg("All nodes registered")
	}
}

func (p *Panel) HandleLog(entries []LogEntry) {
	p.mu.Lock()
	p.logs.Replace(entries)
	p.mu.Unlock()
}

// HandleProperty applies an update. Responses are matched to requests only
// by node and key, so a late reply may overwrite a newer value.
func (p *Panel) HandleProperty(node, property, value string) error {
	p.mu.Lock()
	prop, err := p.registry.Update(node, property, value)
	p.mu.Unlock()

	if err != nil {
		return err
	}

	for _, o := range p.observers {
		o.PropertyChanged(prop)
	}

	return nil
}

// Execute carries out cmd. Run calls it for submitted commands.
func (p *Panel) Execute(cmd Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch cmd.Kind {
	case CommandCommit:
		return p.commit(cmd.Key, cmd.Value)
	case CommandRefresh:
		prop, ok := p.registry.Lookup(cmd.Key)
		if !ok {
			node, property, _ := SplitGlobalName(cmd.Key)
			return unknownProperty(node, property)
		}

		return p.sender.Send(p.id.Get(prop.Node, prop.Name))
	case CommandSetFilter:
		return p.logs.Submit(cmd.Filter)
	case CommandFetchLog:
		return p.logs.Refresh()
	}

	return errors.New("unknown command")
}

// commit sends the new value and then asks for it back: the broker's answer,
// not the local edit, is what the registry shows.
func (p *Panel) commit(key, edited string) error {
	prop, ok := p.registry.Lookup(key)
	if !ok {
		node, property, _ := SplitGlobalName(key)
		return unknownProperty(node, property)
	}

	set, err := p.id.Set(prop.Node, prop.Name, CommitValue(prop, edited))
	if err != nil {
		return err
	}

	return errors.Join(
		p.sender.Send(set),
		p.sender.Send(p.id.Get(prop.Node, prop.Name)),
	)
}

func (p *Panel) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Panel) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.state
}

func (p *Panel) Description() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.description
}

// Outstanding is the number of capability replies still awaited.
func (p *Panel) Outstanding() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.outstanding)
}

func (p *Panel) View() []Row {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.registry.View()
}

func (p *Panel) Lookup(key string) (Property, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.registry.Lookup(key)
}

func (p *Panel) Nodes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.registry.Nodes()
}

func (p *Panel) Logs() []LogEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.logs.Entries()
}
