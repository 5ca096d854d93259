// Package chatworker implements the chat worker (C10): it orchestrates one
// chat turn end to end — resolving the CLI, invoking it, parsing its output,
// appending messages, and running the chat action executor.
package chatworker

import (
	"context"
	"fmt"
	"os"

	"github.com/malamar-dev/malamar/internal/chatexec"
	"github.com/malamar-dev/malamar/internal/cliadapter"
	"github.com/malamar-dev/malamar/internal/eventbus"
	"github.com/malamar-dev/malamar/internal/inputbuilder"
	"github.com/malamar-dev/malamar/internal/logx"
	"github.com/malamar-dev/malamar/internal/metrics"
	"github.com/malamar-dev/malamar/internal/model"
	"github.com/malamar-dev/malamar/internal/outputparser"
	"github.com/malamar-dev/malamar/internal/procreg"
	"github.com/malamar-dev/malamar/internal/repo"
)

// Worker processes chat-queue items.
type Worker struct {
	chatQueue  repo.ChatQueueRepo
	chats      repo.ChatRepo
	workspaces repo.WorkspaceRepo
	agents     repo.AgentRepo
	adapters   *cliadapter.Registry
	procs      *procreg.Registry
	builder    *inputbuilder.Builder
	exec       *chatexec.Executor
	bus        *eventbus.Bus
	log        *logx.Logger
}

// New wires a chat worker from its dependencies.
func New(
	chatQueue repo.ChatQueueRepo,
	chats repo.ChatRepo,
	workspaces repo.WorkspaceRepo,
	agents repo.AgentRepo,
	adapters *cliadapter.Registry,
	procs *procreg.Registry,
	builder *inputbuilder.Builder,
	exec *chatexec.Executor,
	bus *eventbus.Bus,
) *Worker {
	return &Worker{
		chatQueue: chatQueue, chats: chats, workspaces: workspaces, agents: agents,
		adapters: adapters, procs: procs, builder: builder, exec: exec, bus: bus,
		log: logx.NewLogger("chatworker"),
	}
}

// ProcessChat runs the flow of spec.md §4.10 for one claimed queue item.
func (w *Worker) ProcessChat(ctx context.Context, item model.ChatQueueItem, tempDir string) error {
	chat, err := w.chats.FindByID(ctx, item.ChatID)
	if err != nil {
		_ = w.chatQueue.UpdateQueueStatus(ctx, item.ID, model.QueueFailed)
		return fmt.Errorf("load chat %s: %w", item.ChatID, err)
	}

	workspace, err := w.workspaces.FindByID(ctx, chat.WorkspaceID)
	if err != nil {
		_ = w.chatQueue.UpdateQueueStatus(ctx, item.ID, model.QueueFailed)
		return fmt.Errorf("load workspace %s: %w", chat.WorkspaceID, err)
	}

	var agent *model.Agent
	if chat.AgentID != "" {
		if a, err := w.agents.FindByID(ctx, chat.AgentID); err == nil {
			agent = a
		}
		// A missing configured agent is tolerated: the chat falls back to
		// the built-in management agent (spec.md §4.10).
	}

	cliType, ok := w.resolveCLIKind(chat, agent)
	if !ok {
		if err := w.appendSystemMessage(ctx, chat, "No CLI kind is available to process this chat."); err != nil {
			w.log.Error("append no-cli system message for chat %s: %v", chat.ID, err)
		}
		_ = w.chatQueue.UpdateQueueStatus(ctx, item.ID, model.QueueFailed)
		return fmt.Errorf("no CLI kind available for chat %s", chat.ID)
	}

	w.bus.Emit(eventbus.Event{
		Type: eventbus.ChatProcessingStarted, WorkspaceID: chat.WorkspaceID,
		Payload: map[string]any{"chatId": chat.ID, "chatTitle": chat.Title, "agentName": agentName(agent)},
	})

	if err := w.runTurn(ctx, chat, workspace, agent, cliType, tempDir); err != nil {
		_ = w.chatQueue.UpdateQueueStatus(ctx, item.ID, model.QueueFailed)
		return err
	}

	return w.chatQueue.UpdateQueueStatus(ctx, item.ID, model.QueueCompleted)
}

func (w *Worker) resolveCLIKind(chat *model.Chat, agent *model.Agent) (model.CLIKind, bool) {
	if chat.CLIType != "" {
		return chat.CLIType, true
	}
	if agent != nil && agent.CLIType != "" {
		return agent.CLIType, true
	}
	for _, kind := range []model.CLIKind{model.CLIClaude, model.CLIGemini, model.CLICodex, model.CLIOpenCode} {
		if w.adapters.Available(kind) {
			return kind, true
		}
	}
	return "", false
}

func (w *Worker) runTurn(ctx context.Context, chat *model.Chat, workspace *model.Workspace, agent *model.Agent, cliType model.CLIKind, tempDir string) error {
	adapter, ok := w.adapters.Get(cliType)
	if !ok {
		return w.finishWithFailure(ctx, chat, fmt.Sprintf("no adapter available for cli kind %s", cliType))
	}

	messages, err := w.chats.FindAllMessagesByChatID(ctx, chat.ID)
	if err != nil {
		return fmt.Errorf("load messages for chat %s: %w", chat.ID, err)
	}

	agentsInWorkspace, err := w.agents.FindByWorkspaceID(ctx, workspace.ID)
	if err != nil {
		return fmt.Errorf("load agents for workspace %s: %w", workspace.ID, err)
	}

	health, err := inputbuilder.LoadCLIHealthSnapshot(tempDir)
	if err != nil {
		w.log.Warn("load cli health snapshot: %v", err)
	}
	contextDoc, err := w.builder.BuildChatContext(inputbuilder.ChatContextRequest{Workspace: workspace, Agents: agentsInWorkspace, Health: health})
	if err != nil {
		return fmt.Errorf("build context for chat %s: %w", chat.ID, err)
	}
	contextPath := inputbuilder.ChatContextPath(tempDir, chat.ID)
	if err := os.WriteFile(contextPath, []byte(contextDoc), 0o600); err != nil {
		return fmt.Errorf("write context for chat %s: %w", chat.ID, err)
	}

	build, err := w.builder.BuildChatInput(inputbuilder.ChatInputRequest{
		Workspace: workspace, Chat: chat, Agent: agent, Messages: messages, ContextPath: contextPath, TempDir: tempDir,
	})
	if err != nil {
		return fmt.Errorf("build input for chat %s: %w", chat.ID, err)
	}
	inputPath := inputbuilder.ChatInputPath(tempDir, chat.ID)
	if err := os.WriteFile(inputPath, []byte(build.Content), 0o600); err != nil {
		return fmt.Errorf("write input for chat %s: %w", chat.ID, err)
	}

	workDir := tempDir
	if workspace.WorkingDirectoryMode == model.WorkingDirStatic {
		workDir = workspace.WorkingDirectoryPath
	}

	proc, err := adapter.Start(ctx, cliadapter.Request{
		InputPath: inputPath, OutputPath: build.OutputPath, WorkDir: workDir,
		Kind: cliadapter.KindChat, CLIType: cliType,
	})
	if err != nil {
		return w.finishWithFailure(ctx, chat, fmt.Sprintf("failed to start: %s", err))
	}

	w.procs.TrackChat(chat.ID, workspace.ID, proc)
	metrics.AgentInvocationsTotal.Inc()
	cliResult, _ := proc.Wait()
	w.procs.UntrackChat(chat.ID)

	if !cliResult.Success {
		metrics.CLIFailuresTotal.Inc()
		return w.finishWithFailure(ctx, chat, outputparser.GenerateErrorComment(cliResult.ExitCode, cliResult.Stderr))
	}

	output, err := outputparser.ParseChatOutputFile(build.OutputPath)
	if err != nil {
		return w.finishWithFailure(ctx, chat, err.Error())
	}

	// canRename must be computed before any new message is written, so the
	// first-response-only rename window is preserved (spec.md §4.8/§4.10).
	agentMsgCount, err := w.chats.CountAgentMessages(ctx, chat.ID)
	if err != nil {
		return fmt.Errorf("count agent messages for chat %s: %w", chat.ID, err)
	}
	canRename := agentMsgCount == 0

	if output.Message != nil {
		var actionsJSON []byte
		if len(output.Actions) > 0 {
			actionsJSON, err = outputparser.MarshalChatActions(output.Actions)
			if err != nil {
				return fmt.Errorf("marshal actions for chat %s: %w", chat.ID, err)
			}
		}
		if err := w.chats.CreateMessage(ctx, &model.ChatMessage{ChatID: chat.ID, Role: model.RoleAgent, Message: *output.Message, Actions: actionsJSON}); err != nil {
			return fmt.Errorf("append agent message for chat %s: %w", chat.ID, err)
		}
		w.bus.Emit(eventbus.Event{
			Type: eventbus.ChatMessageAdded, WorkspaceID: chat.WorkspaceID,
			Payload: map[string]any{"chatId": chat.ID, "chatTitle": chat.Title, "authorType": model.ActorAgent},
		})
	}

	if len(output.Actions) > 0 {
		if _, err := w.exec.Apply(ctx, chat, workspace, output.Actions, canRename); err != nil {
			return fmt.Errorf("apply chat actions for chat %s: %w", chat.ID, err)
		}
	}

	w.bus.Emit(eventbus.Event{
		Type: eventbus.ChatProcessingFinished, WorkspaceID: chat.WorkspaceID,
		Payload: map[string]any{"chatId": chat.ID, "chatTitle": chat.Title, "agentName": agentName(agent)},
	})
	return nil
}

func (w *Worker) finishWithFailure(ctx context.Context, chat *model.Chat, message string) error {
	if err := w.appendSystemMessage(ctx, chat, message); err != nil {
		w.log.Error("append failure system message for chat %s: %v", chat.ID, err)
	}
	w.bus.Emit(eventbus.Event{
		Type: eventbus.ChatProcessingFinished, WorkspaceID: chat.WorkspaceID,
		Payload: map[string]any{"chatId": chat.ID, "chatTitle": chat.Title, "error": message},
	})
	return fmt.Errorf("chat %s turn failed: %s", chat.ID, message)
}

func (w *Worker) appendSystemMessage(ctx context.Context, chat *model.Chat, message string) error {
	if err := w.chats.CreateMessage(ctx, &model.ChatMessage{ChatID: chat.ID, Role: model.RoleSystem, Message: message}); err != nil {
		return err
	}
	w.bus.Emit(eventbus.Event{
		Type: eventbus.ChatMessageAdded, WorkspaceID: chat.WorkspaceID,
		Payload: map[string]any{"chatId": chat.ID, "chatTitle": chat.Title, "authorType": model.ActorSystem},
	})
	return nil
}

func agentName(agent *model.Agent) string {
	if agent == nil {
		return "Malamar"
	}
	return agent.Name
}
