package inputbuilder

import (
	"fmt"
	"path/filepath"

	"github.com/malamar-dev/malamar/internal/model"
)

// ChatInputRequest bundles everything buildChatInput needs.
type ChatInputRequest struct {
	Workspace   *model.Workspace
	Chat        *model.Chat
	Agent       *model.Agent // nil when the chat uses the built-in management agent
	Messages    []model.ChatMessage
	ContextPath string
	TempDir     string
}

type chatInputView struct {
	AgentInstruction string
	ChatID           string
	WorkspaceTitle   string
	AgentName        string
	MessagesJSONL    []string
	ContextPath      string
	OutputPath       string
}

// BuildChatInput renders the chat input markdown (spec.md §4.6) and mints a
// fresh output path keyed by a 21-char URL-safe id.
func (b *Builder) BuildChatInput(req ChatInputRequest) (BuildResult, error) {
	agentName := "Malamar"
	instruction := ""
	if req.Agent != nil {
		agentName = req.Agent.Name
		instruction = req.Agent.Instruction
	}

	outputPath := filepath.Join(req.TempDir, fmt.Sprintf("malamar_chat_output_%s.json", newOutputID()))

	view := chatInputView{
		AgentInstruction: instruction,
		ChatID:           req.Chat.ID,
		WorkspaceTitle:   req.Workspace.Title,
		AgentName:        agentName,
		MessagesJSONL:    messageLines(req.Messages),
		ContextPath:      req.ContextPath,
		OutputPath:       outputPath,
	}

	content, err := b.render(chatInputTemplate, view)
	if err != nil {
		return BuildResult{}, err
	}
	return BuildResult{Content: content, OutputPath: outputPath}, nil
}

// ChatInputPath returns the fixed chat input file path for chatID, per
// spec.md §6.2: <tempDir>/malamar_chat_<chatId>.md.
func ChatInputPath(tempDir, chatID string) string {
	return filepath.Join(tempDir, fmt.Sprintf("malamar_chat_%s.md", chatID))
}

// ChatContextPath returns the fixed workspace-context file path for chatID,
// per spec.md §6.2: <tempDir>/malamar_chat_<chatId>_context.md.
func ChatContextPath(tempDir, chatID string) string {
	return filepath.Join(tempDir, fmt.Sprintf("malamar_chat_%s_context.md", chatID))
}

// ChatAttachmentsDir returns the fixed attachments directory for chatID
// (spec.md §6.2; the directory itself is out-of-scope core but its naming
// convention is fixed so C6's context doc can point at it).
func ChatAttachmentsDir(tempDir, chatID string) string {
	return filepath.Join(tempDir, fmt.Sprintf("malamar_chat_%s_attachments", chatID))
}
