package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/omrylcn/gbot/internal/store"
)

// AddFavoriteTool adds an item to the user's favorites.
type AddFavoriteTool struct {
	memory store.MemoryStore
}

func NewAddFavoriteTool(memory store.MemoryStore) *AddFavoriteTool {
	return &AddFavoriteTool{memory: memory}
}

func (t *AddFavoriteTool) Name() string { return "add_favorite" }

func (t *AddFavoriteTool) Description() string {
	return "Add an item to the user's favorites list."
}

func (t *AddFavoriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"item": map[string]interface{}{
				"type":        "string",
				"description": "The item to favorite",
			},
			"category": map[string]interface{}{
				"type":        "string",
				"description": "Optional category (default: general)",
			},
		},
		"required": []string{"item"},
	}
}

func (t *AddFavoriteTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	item, _ := args["item"].(string)
	if item == "" {
		return ErrorResult("item is required")
	}
	category := favoriteCategoryArg(args)

	// AddFavorite is idempotent, so duplicates are detected up front to
	// give the model a useful reply.
	favs, err := t.memory.Favorites(ctx, uid)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to read favorites: %v", err)).WithError(err)
	}
	for _, f := range favs {
		if f.Category == category && f.Item == item {
			return NewResult(fmt.Sprintf("'%s' is already in favorites.", item))
		}
	}
	if err := t.memory.AddFavorite(ctx, uid, category, item); err != nil {
		return ErrorResult(fmt.Sprintf("Failed to add favorite: %v", err)).WithError(err)
	}
	return NewResult(fmt.Sprintf("Added to favorites: %s", item))
}

// RemoveFavoriteTool removes an item from the user's favorites.
type RemoveFavoriteTool struct {
	memory store.MemoryStore
}

func NewRemoveFavoriteTool(memory store.MemoryStore) *RemoveFavoriteTool {
	return &RemoveFavoriteTool{memory: memory}
}

func (t *RemoveFavoriteTool) Name() string { return "remove_favorite" }

func (t *RemoveFavoriteTool) Description() string {
	return "Remove an item from the user's favorites."
}

func (t *RemoveFavoriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"item": map[string]interface{}{
				"type":        "string",
				"description": "The item to remove",
			},
			"category": map[string]interface{}{
				"type":        "string",
				"description": "Category the item was saved under (searched when omitted)",
			},
		},
		"required": []string{"item"},
	}
}

func (t *RemoveFavoriteTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	item, _ := args["item"].(string)
	if item == "" {
		return ErrorResult("item is required")
	}
	category, _ := args["category"].(string)
	if category == "" {
		// Find the category the item lives under.
		favs, err := t.memory.Favorites(ctx, uid)
		if err != nil {
			return ErrorResult(fmt.Sprintf("Failed to read favorites: %v", err)).WithError(err)
		}
		for _, f := range favs {
			if f.Item == item {
				category = f.Category
				break
			}
		}
		if category == "" {
			return NewResult(fmt.Sprintf("'%s' is not in favorites.", item))
		}
	}
	err := t.memory.RemoveFavorite(ctx, uid, category, item)
	if errors.Is(err, store.ErrNotFound) {
		return NewResult(fmt.Sprintf("'%s' is not in favorites.", item))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to remove favorite: %v", err)).WithError(err)
	}
	return NewResult("Removed from favorites.")
}

// ListFavoritesTool reads back the user's favorites.
type ListFavoritesTool struct {
	memory store.MemoryStore
}

func NewListFavoritesTool(memory store.MemoryStore) *ListFavoritesTool {
	return &ListFavoritesTool{memory: memory}
}

func (t *ListFavoritesTool) Name() string { return "list_favorites" }

func (t *ListFavoritesTool) Description() string {
	return "List the user's favorite items."
}

func (t *ListFavoritesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *ListFavoritesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	favs, err := t.memory.Favorites(ctx, uid)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to read favorites: %v", err)).WithError(err)
	}
	if len(favs) == 0 {
		return NewResult("No favorites yet.")
	}
	lines := make([]string, 0, len(favs))
	for _, f := range favs {
		if f.Category != "" && f.Category != store.FavoriteCategoryGeneral {
			lines = append(lines, fmt.Sprintf("- %s (%s)", f.Item, f.Category))
		} else {
			lines = append(lines, "- "+f.Item)
		}
	}
	return NewResult(strings.Join(lines, "\n"))
}

func favoriteCategoryArg(args map[string]interface{}) string {
	category, _ := args["category"].(string)
	if category == "" {
		return store.FavoriteCategoryGeneral
	}
	return category
}
