// Package service exposes the workspace command surface. Every mutation
// reads current state, validates, and appends exactly one event; writes
// for the same workspace are serialized so no two mutations interleave.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/notare/notare/internal/platform/id"
	"github.com/notare/notare/internal/storage"
	"github.com/notare/notare/internal/workspace/event"
	"github.com/notare/notare/internal/workspace/replay"
	"github.com/notare/notare/internal/workspace/serializer"
	"github.com/notare/notare/internal/workspace/state"
)

// ErrNoSession indicates no signed-in user for an operation that
// requires one.
var ErrNoSession = errors.New("no active session")

// ErrForbidden indicates the session user may not mutate the workspace.
var ErrForbidden = errors.New("operation not allowed")

// Session identifies a signed-in user.
type Session struct {
	UserID string
}

// SessionSource resolves the current session. Auth lives outside this
// module; implementations return ErrNoSession when nobody is signed in.
type SessionSource interface {
	CurrentSession(ctx context.Context) (Session, error)
}

// Service executes workspace commands.
type Service struct {
	store    storage.Store
	emitter  *event.Emitter
	loader   *replay.Loader
	chains   *serializer.Serializer
	sessions SessionSource
}

// New wires a Service over the given store. snapshotEvery controls
// opportunistic snapshotting during loads; zero disables it.
func New(store storage.Store, sessions SessionSource, snapshotEvery int) *Service {
	return &Service{
		store:    store,
		emitter:  event.NewEmitter(store),
		loader:   replay.NewLoader(store, store, snapshotEvery),
		chains:   serializer.New(),
		sessions: sessions,
	}
}

// Load rebuilds the current state of a workspace. Reads bypass the
// write chain. Title and description default from the workspace row
// until a workspace.title_set or workspace.description_set event
// overrides them.
func (s *Service) Load(ctx context.Context, workspaceID string) (state.WorkspaceState, state.DropStats, error) {
	current, stats, err := s.loader.Load(ctx, workspaceID)
	if err != nil {
		return current, stats, err
	}
	if current.Title == "" || current.Description == "" {
		workspace, err := s.store.GetWorkspace(ctx, workspaceID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			// Deleted or never-created workspace reads as empty state.
		case err != nil:
			return current, stats, fmt.Errorf("load workspace: %w", err)
		default:
			if current.Title == "" {
				current.Title = workspace.Name
			}
			if current.Description == "" {
				current.Description = workspace.Description
			}
		}
	}
	return current, stats, nil
}

// CreateWorkspaceInput describes a new workspace.
type CreateWorkspaceInput struct {
	Name        string
	Description string
	IsPublic    bool
}

// CreateWorkspace creates an empty workspace owned by the session user.
func (s *Service) CreateWorkspace(ctx context.Context, input CreateWorkspaceInput) (storage.Workspace, error) {
	session, err := s.requireSession(ctx)
	if err != nil {
		return storage.Workspace{}, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return storage.Workspace{}, fmt.Errorf("workspace name is required")
	}

	workspaceID, err := id.NewID()
	if err != nil {
		return storage.Workspace{}, fmt.Errorf("generate workspace id: %w", err)
	}
	workspace := storage.Workspace{
		ID:          workspaceID,
		Name:        input.Name,
		Description: input.Description,
		OwnerID:     session.UserID,
		IsPublic:    input.IsPublic,
	}
	if err := s.store.PutWorkspace(ctx, workspace); err != nil {
		return storage.Workspace{}, fmt.Errorf("create workspace: %w", err)
	}
	return workspace, nil
}

// DeleteWorkspace removes a workspace and everything it owns: the
// workspace row, its event journal, and its snapshots, in one
// transaction. Only the owner may delete.
func (s *Service) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	session, err := s.requireSession(ctx)
	if err != nil {
		return err
	}
	workspace, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("load workspace: %w", err)
	}
	if workspace.OwnerID != session.UserID {
		return ErrForbidden
	}
	return s.chains.Run(ctx, workspaceID, func(ctx context.Context) error {
		return s.store.DeleteWorkspace(ctx, workspaceID)
	})
}

// CreateItemInput describes a new item.
type CreateItemInput struct {
	ItemType state.ItemType
	Name     string
	// FolderID is the parent folder, empty for the workspace root.
	FolderID string
	Data     json.RawMessage
}

// CreateItem appends an item.created event and returns the new item's
// ID. Creation does not read current state, so it bypasses the
// per-workspace chain; a parent folder that turns out not to exist is
// resolved at replay time by the fold's skip policy.
func (s *Service) CreateItem(ctx context.Context, workspaceID string, input CreateItemInput) (string, error) {
	session, err := s.authorize(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	if !input.ItemType.IsValid() {
		return "", fmt.Errorf("unknown item type %q", input.ItemType)
	}
	if strings.TrimSpace(input.Name) == "" {
		return "", fmt.Errorf("item name is required")
	}

	itemID, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate item id: %w", err)
	}
	err = s.chains.RunParallel(ctx, func(ctx context.Context) error {
		_, err := s.emitter.EmitItemCreated(ctx, workspaceID, session.UserID, event.ItemCreatedPayload{
			ItemID:   itemID,
			ItemType: string(input.ItemType),
			Name:     input.Name,
			FolderID: input.FolderID,
			Data:     input.Data,
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return itemID, nil
}

// UpdateItem applies field updates to an existing item.
func (s *Service) UpdateItem(ctx context.Context, workspaceID, itemID string, fields map[string]any) error {
	session, err := s.authorize(ctx, workspaceID)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return fmt.Errorf("no fields to update")
	}
	return s.chains.Run(ctx, workspaceID, func(ctx context.Context) error {
		current, _, err := s.loader.Load(ctx, workspaceID)
		if err != nil {
			return err
		}
		if _, ok := current.Items[itemID]; !ok {
			return fmt.Errorf("item %s: %w", itemID, storage.ErrNotFound)
		}
		_, err = s.emitter.EmitItemUpdated(ctx, workspaceID, session.UserID, event.ItemUpdatedPayload{
			ItemID: itemID,
			Fields: fields,
		})
		return err
	})
}

// MoveItem re-parents an item. The target must be an existing folder
// (or empty for the root) and must not be the item itself or one of its
// descendants.
func (s *Service) MoveItem(ctx context.Context, workspaceID, itemID, folderID string) error {
	session, err := s.authorize(ctx, workspaceID)
	if err != nil {
		return err
	}
	return s.chains.Run(ctx, workspaceID, func(ctx context.Context) error {
		current, _, err := s.loader.Load(ctx, workspaceID)
		if err != nil {
			return err
		}
		if _, ok := current.Items[itemID]; !ok {
			return fmt.Errorf("item %s: %w", itemID, storage.ErrNotFound)
		}
		if folderID != "" {
			target, ok := current.Items[folderID]
			if !ok {
				return fmt.Errorf("folder %s: %w", folderID, storage.ErrNotFound)
			}
			if target.Type != state.ItemTypeFolder {
				return fmt.Errorf("item %s is not a folder", folderID)
			}
			if current.InFolder(folderID, itemID) {
				return fmt.Errorf("cannot move %s into its own subtree", itemID)
			}
		}
		_, err = s.emitter.EmitItemMoved(ctx, workspaceID, session.UserID, event.ItemMovedPayload{
			ItemID:   itemID,
			FolderID: folderID,
		})
		return err
	})
}

// DeleteItem removes an item. Children of a deleted folder survive and
// re-parent to the workspace root.
func (s *Service) DeleteItem(ctx context.Context, workspaceID, itemID, reason string) error {
	session, err := s.authorize(ctx, workspaceID)
	if err != nil {
		return err
	}
	return s.chains.Run(ctx, workspaceID, func(ctx context.Context) error {
		current, _, err := s.loader.Load(ctx, workspaceID)
		if err != nil {
			return err
		}
		if _, ok := current.Items[itemID]; !ok {
			return fmt.Errorf("item %s: %w", itemID, storage.ErrNotFound)
		}
		_, err = s.emitter.EmitItemDeleted(ctx, workspaceID, session.UserID, event.ItemDeletedPayload{
			ItemID: itemID,
			Reason: reason,
		})
		return err
	})
}

// RenameFolder renames a folder item.
func (s *Service) RenameFolder(ctx context.Context, workspaceID, folderID, name string) error {
	session, err := s.authorize(ctx, workspaceID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("folder name is required")
	}
	return s.chains.Run(ctx, workspaceID, func(ctx context.Context) error {
		current, _, err := s.loader.Load(ctx, workspaceID)
		if err != nil {
			return err
		}
		folder, ok := current.Items[folderID]
		if !ok {
			return fmt.Errorf("folder %s: %w", folderID, storage.ErrNotFound)
		}
		if folder.Type != state.ItemTypeFolder {
			return fmt.Errorf("item %s is not a folder", folderID)
		}
		_, err = s.emitter.EmitFolderRenamed(ctx, workspaceID, session.UserID, event.FolderRenamedPayload{
			FolderID: folderID,
			Name:     name,
		})
		return err
	})
}

// SetTitle sets the workspace title.
func (s *Service) SetTitle(ctx context.Context, workspaceID, title string) error {
	session, err := s.authorize(ctx, workspaceID)
	if err != nil {
		return err
	}
	return s.chains.Run(ctx, workspaceID, func(ctx context.Context) error {
		_, err := s.emitter.EmitTitleSet(ctx, workspaceID, session.UserID, event.TitleSetPayload{
			Title: title,
		})
		return err
	})
}

// SetDescription sets the workspace description.
func (s *Service) SetDescription(ctx context.Context, workspaceID, description string) error {
	session, err := s.authorize(ctx, workspaceID)
	if err != nil {
		return err
	}
	return s.chains.Run(ctx, workspaceID, func(ctx context.Context) error {
		_, err := s.emitter.EmitDescriptionSet(ctx, workspaceID, session.UserID, event.DescriptionSetPayload{
			Description: description,
		})
		return err
	})
}

func (s *Service) requireSession(ctx context.Context) (Session, error) {
	if s.sessions == nil {
		return Session{}, ErrNoSession
	}
	session, err := s.sessions.CurrentSession(ctx)
	if err != nil {
		return Session{}, err
	}
	if session.UserID == "" {
		return Session{}, ErrNoSession
	}
	return session, nil
}

// authorize resolves the session and checks the user may mutate the
// workspace: the owner always can, anyone signed in can when the
// workspace is public.
func (s *Service) authorize(ctx context.Context, workspaceID string) (Session, error) {
	session, err := s.requireSession(ctx)
	if err != nil {
		return Session{}, err
	}
	workspace, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return Session{}, fmt.Errorf("load workspace: %w", err)
	}
	if workspace.OwnerID != session.UserID && !workspace.IsPublic {
		return Session{}, ErrForbidden
	}
	return session, nil
}
