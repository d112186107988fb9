package api

import (
	"github.com/starford/linkledger/internal/index"
	"github.com/starford/linkledger/internal/linkservice"
	"github.com/starford/linkledger/internal/models"
)

// AddLinkRequest is the request body for adding a link (aliased from the domain layer).
type AddLinkRequest = linkservice.AddLinkRequest

// DeleteLinkRequest selects one link by URL or title (aliased from the domain layer).
type DeleteLinkRequest = linkservice.DeleteLinkRequest

// DeleteLinksRequest is the request body for a bulk delete (aliased from the domain layer).
type DeleteLinksRequest = linkservice.DeleteLinksRequest

// LedgerView is the parsed ledger (aliased from the domain layer).
type LedgerView = linkservice.LedgerView

// ChangeResult describes a committed mutation (aliased from the domain layer).
type ChangeResult = linkservice.ChangeResult

// StoreStatus is the backend diagnostic (aliased from the domain layer).
type StoreStatus = linkservice.StoreStatus

// LinkListResponse wraps link listings.
type LinkListResponse struct {
	Links []index.LinkRow `json:"links" validate:"required"`
	Total int             `json:"total" example:"42" validate:"required"`
}

// CategoryListResponse wraps category listings.
type CategoryListResponse struct {
	Categories []index.CategoryCount `json:"categories" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// HistoryResponse wraps the ledger's commit history.
type HistoryResponse struct {
	Revisions []models.Revision `json:"revisions" validate:"required"`
}
