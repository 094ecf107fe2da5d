package fleet

import (
	"context"
	"time"

	"github.com/BaSui01/agentmesh/agent"
	"github.com/BaSui01/agentmesh/events"
	"github.com/BaSui01/agentmesh/persistence"
	"go.uber.org/zap"
)

// Transition 在 owner goroutine 内对记录执行的迁移
type Transition func(agent.Record) (agent.Record, error)

type command struct {
	apply Transition
	reply chan commandResult
}

type commandResult struct {
	rec agent.Record
	err error
}

// Owner 独占一个 agent 记录的 goroutine。
// 所有读写都经由命令通道串行执行，采纳迁移返回的新值。
type Owner struct {
	rec     agent.Record
	cmds    chan command
	stop    chan struct{}
	done    chan struct{}
	repo    persistence.AgentRepository
	sink    events.Sink
	now     func() time.Time
	timeout time.Duration
	logger  *zap.Logger
}

func newOwner(rec agent.Record, f *Fleet) *Owner {
	return &Owner{
		rec:     rec,
		cmds:    make(chan command, f.config.CommandBuffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		repo:    f.repo,
		sink:    f.sink,
		now:     f.now,
		timeout: f.config.PersistTimeout,
		logger: f.logger.With(
			zap.String("tenant_id", rec.TenantID()),
			zap.String("agent_id", rec.ID())),
	}
}

// run is the owner loop. Commands already accepted are served before exit.
func (o *Owner) run() error {
	defer close(o.done)
	for {
		select {
		case cmd := <-o.cmds:
			o.handle(cmd)
		case <-o.stop:
			for {
				select {
				case cmd := <-o.cmds:
					o.handle(cmd)
				default:
					return nil
				}
			}
		}
	}
}

func (o *Owner) handle(cmd command) {
	if cmd.apply == nil {
		cmd.reply <- commandResult{rec: o.rec}
		return
	}
	next, err := cmd.apply(o.rec)
	if err != nil {
		cmd.reply <- commandResult{rec: o.rec, err: err}
		return
	}
	prev := o.rec
	o.rec = next
	o.persist(next)
	if prev.Status() != next.Status() {
		e := events.New(events.KindStatusChanged, o.now()).
			WithAgent(next.TenantID(), next.ID()).
			WithTransition(string(prev.Status()), string(next.Status()))
		if next.Status() == agent.StatusUnhealthy {
			e = e.WithReason(next.Metadata(agent.MetaUnhealthyReason))
		}
		o.sink.Emit(e)
	}
	cmd.reply <- commandResult{rec: next}
}

// persist writes the adopted record. A failed write is logged; the owner's
// copy stays authoritative and the next transition writes it again.
func (o *Owner) persist(rec agent.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.repo.Save(ctx, rec); err != nil {
		o.logger.Warn("persist agent failed", zap.Int64("version", rec.Version()), zap.Error(err))
	}
}

// submit sends fn to the owner and waits for the adopted record. A nil fn
// reads the current record. ctx bounds only the hand-off.
func (o *Owner) submit(ctx context.Context, fn Transition) (agent.Record, error) {
	cmd := command{apply: fn, reply: make(chan commandResult, 1)}
	select {
	case o.cmds <- cmd:
	case <-o.stop:
		return agent.Record{}, ErrClosed
	case <-ctx.Done():
		return agent.Record{}, ctx.Err()
	}
	// An accepted command always runs to completion.
	select {
	case res := <-cmd.reply:
		return res.rec, res.err
	case <-o.done:
		select {
		case res := <-cmd.reply:
			return res.rec, res.err
		default:
			return agent.Record{}, ErrClosed
		}
	}
}
