// Package runner implements the runner scheduler (C11): two independent
// polling loops — task queue and chat queue — that claim queued work and
// hand it to the task worker (C9) or chat worker (C10), one concurrent
// worker per workspace (tasks) or per chat (chats).
//
// Grounded on the teacher's pkg/dispatch goroutine-per-unit-of-work dispatch
// loop, replacing its channel-routed message passing with two interval-timer
// polling loops over SQL-backed queues, per spec.md §4.11.
package runner

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/malamar-dev/malamar/internal/chatworker"
	"github.com/malamar-dev/malamar/internal/logx"
	"github.com/malamar-dev/malamar/internal/metrics"
	"github.com/malamar-dev/malamar/internal/model"
	"github.com/malamar-dev/malamar/internal/procreg"
	"github.com/malamar-dev/malamar/internal/repo"
	"github.com/malamar-dev/malamar/internal/taskworker"
)

// shutdownQuiesce is how long shutdown waits after killing every subprocess, to
// let signal delivery and status-transition writes land (spec.md §4.11).
const shutdownQuiesce = time.Second

// Scheduler drives the two polling loops described in spec.md §4.11.
type Scheduler struct {
	taskQueue repo.TaskQueueRepo
	chatQueue repo.ChatQueueRepo

	taskWorker *taskworker.Worker
	chatWorker *chatworker.Worker
	procs      *procreg.Registry

	pollInterval time.Duration
	tempDir      string

	mu                   sync.Mutex
	activeTaskWorkspaces map[string]bool
	activeChats          map[string]bool
	isShuttingDown       bool

	wg  sync.WaitGroup
	log *logx.Logger
}

// New wires a scheduler from its dependencies.
func New(
	taskQueue repo.TaskQueueRepo,
	chatQueue repo.ChatQueueRepo,
	taskWorker *taskworker.Worker,
	chatWorker *chatworker.Worker,
	procs *procreg.Registry,
	pollInterval time.Duration,
	tempDir string,
) *Scheduler {
	return &Scheduler{
		taskQueue: taskQueue, chatQueue: chatQueue,
		taskWorker: taskWorker, chatWorker: chatWorker, procs: procs,
		pollInterval:         pollInterval,
		tempDir:              tempDir,
		activeTaskWorkspaces: make(map[string]bool),
		activeChats:          make(map[string]bool),
		log:                  logx.NewLogger("runner"),
	}
}

// Run performs startup recovery, then blocks until ctx is cancelled, at which
// point it runs graceful shutdown and returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.taskQueue.RecoverInProgress(ctx); err != nil {
		s.log.Error("recover in-progress task queue rows: %v", err)
	}
	if err := s.chatQueue.RecoverInProgress(ctx); err != nil {
		s.log.Error("recover in-progress chat queue rows: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { s.pollLoop(gctx, s.pollTasks); return nil })
	g.Go(func() error { s.pollLoop(gctx, s.pollChats); return nil })

	err := g.Wait()
	s.shutdown()
	return err
}

// pollLoop runs pollOnce synchronously once, then every interval until ctx
// is cancelled (spec.md §4.11: "initial poll runs synchronously right after
// start").
func (s *Scheduler) pollLoop(ctx context.Context, pollOnce func(context.Context)) {
	pollOnce(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.shuttingDown() {
				return
			}
			pollOnce(ctx)
		}
	}
}

func (s *Scheduler) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isShuttingDown
}

// pollTasks implements spec.md §4.11's task pickup algorithm.
func (s *Scheduler) pollTasks(ctx context.Context) {
	workspaceIDs, err := s.taskQueue.WorkspacesWithQueued(ctx)
	if err != nil {
		s.log.Error("list workspaces with queued tasks: %v", err)
		return
	}
	depth := 0
	for _, workspaceID := range workspaceIDs {
		if items, err := s.taskQueue.FindQueuedByWorkspace(ctx, workspaceID); err == nil {
			depth += len(items)
		}
	}
	metrics.QueueDepth.WithLabelValues(metrics.QueueTask).Set(float64(depth))

	for _, workspaceID := range workspaceIDs {
		s.mu.Lock()
		if s.isShuttingDown || s.activeTaskWorkspaces[workspaceID] {
			s.mu.Unlock()
			continue
		}
		s.activeTaskWorkspaces[workspaceID] = true
		s.mu.Unlock()

		item, err := s.pickNextTaskQueueItem(ctx, workspaceID)
		if err != nil {
			s.log.Error("pick next task for workspace %s: %v", workspaceID, err)
			s.releaseTaskWorkspace(workspaceID)
			continue
		}
		if item == nil {
			s.releaseTaskWorkspace(workspaceID)
			continue
		}

		claimed, err := s.taskQueue.ClaimQueueItem(ctx, item.ID)
		if err != nil || !claimed {
			if err != nil {
				s.log.Error("claim task queue item %s: %v", item.ID, err)
			}
			s.releaseTaskWorkspace(workspaceID)
			continue
		}

		s.spawnTaskWorker(ctx, workspaceID, *item)
	}
}

// pickNextTaskQueueItem implements spec.md §4.11's ranking rule: priority
// first, then the task id most recently resolved in this workspace (lets a
// mid-flight pipeline continue), else LIFO by updated_at.
func (s *Scheduler) pickNextTaskQueueItem(ctx context.Context, workspaceID string) (*model.TaskQueueItem, error) {
	items, err := s.taskQueue.FindQueuedByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	for i := range items {
		if items[i].IsPriority {
			return &items[i], nil
		}
	}

	if taskID, ok, err := s.taskQueue.MostRecentResolvedTaskID(ctx, workspaceID); err == nil && ok {
		for i := range items {
			if items[i].TaskID == taskID {
				return &items[i], nil
			}
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	return &items[0], nil
}

func (s *Scheduler) releaseTaskWorkspace(workspaceID string) {
	s.mu.Lock()
	delete(s.activeTaskWorkspaces, workspaceID)
	s.mu.Unlock()
}

func (s *Scheduler) spawnTaskWorker(ctx context.Context, workspaceID string, item model.TaskQueueItem) {
	metrics.ActiveTaskWorkers.Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer metrics.ActiveTaskWorkers.Dec()
		defer s.releaseTaskWorkspace(workspaceID)

		if err := s.taskWorker.ProcessTask(ctx, item, s.tempDir); err != nil {
			s.log.Error("task worker for queue item %s: %v", item.ID, err)
		}
	}()
}

// pollChats implements spec.md §4.11's chat pickup algorithm: global FIFO by
// created_at, one active worker per chat.
func (s *Scheduler) pollChats(ctx context.Context) {
	items, err := s.chatQueue.FindQueuedItems(ctx)
	if err != nil {
		s.log.Error("list queued chat items: %v", err)
		return
	}
	metrics.QueueDepth.WithLabelValues(metrics.QueueChat).Set(float64(len(items)))

	for _, item := range items {
		s.mu.Lock()
		if s.isShuttingDown || s.activeChats[item.ChatID] {
			s.mu.Unlock()
			continue
		}
		s.activeChats[item.ChatID] = true
		s.mu.Unlock()

		claimed, err := s.chatQueue.ClaimQueueItem(ctx, item.ID)
		if err != nil || !claimed {
			if err != nil {
				s.log.Error("claim chat queue item %s: %v", item.ID, err)
			}
			s.releaseChat(item.ChatID)
			continue
		}

		s.spawnChatWorker(ctx, item)
	}
}

func (s *Scheduler) releaseChat(chatID string) {
	s.mu.Lock()
	delete(s.activeChats, chatID)
	s.mu.Unlock()
}

func (s *Scheduler) spawnChatWorker(ctx context.Context, item model.ChatQueueItem) {
	metrics.ActiveChatWorkers.Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer metrics.ActiveChatWorkers.Dec()
		defer s.releaseChat(item.ChatID)

		if err := s.chatWorker.ProcessChat(ctx, item, s.tempDir); err != nil {
			s.log.Error("chat worker for queue item %s: %v", item.ID, err)
		}
	}()
}

// shutdown implements spec.md §4.11's graceful shutdown: mark shutting down,
// kill every live subprocess, wait briefly for status transitions to land,
// then wait for in-flight workers to finish unwinding.
func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.isShuttingDown = true
	s.mu.Unlock()

	s.procs.KillAll()
	time.Sleep(shutdownQuiesce)
	s.wg.Wait()

	s.mu.Lock()
	s.activeTaskWorkspaces = make(map[string]bool)
	s.activeChats = make(map[string]bool)
	s.mu.Unlock()
}
