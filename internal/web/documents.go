package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tbase/internal/authkit"
	"github.com/tyemirov/tbase/internal/docstore"
	"github.com/tyemirov/tbase/internal/profile"
	"github.com/tyemirov/tbase/internal/result"
)

// Query parameters understood by collection reads.
const (
	queryFilter    = "filter"
	queryOrderBy   = "order_by"
	queryDirection = "direction"
	queryLimit     = "limit"
	queryCount     = "count"
)

const (
	messageInvalidQuery          = "Invalid query: "
	messageInvalidCollectionPath = "Invalid collection path"
	messageInvalidDocumentID     = "Invalid document id"
	// MessagePermissionDenied rejects writes to another account's profile tree.
	MessagePermissionDenied = "Missing or insufficient permissions"
)

type documentRoutes struct {
	store *docstore.Store
}

// documentAddress is a path split into a collection and an optional document id.
// Paths with an odd number of segments name collections; even ones name documents.
type documentAddress struct {
	collection string
	documentID string
}

func (address documentAddress) isDocument() bool {
	return address.documentID != ""
}

func parseAddress(rawPath string) documentAddress {
	trimmed := strings.Trim(rawPath, "/")
	segments := strings.Split(trimmed, "/")
	if len(segments)%2 == 1 {
		return documentAddress{collection: trimmed}
	}
	return documentAddress{
		collection: strings.Join(segments[:len(segments)-1], "/"),
		documentID: segments[len(segments)-1],
	}
}

// owner returns the uid that owns the address when it lies under the users
// collection. Profile documents are owned by their id and subcollections by the
// parent profile id.
func (address documentAddress) owner() (string, bool) {
	segments := strings.Split(address.collection, "/")
	if segments[0] != profile.UsersCollection {
		return "", false
	}
	if len(segments) > 1 {
		return segments[1], true
	}
	return address.documentID, true
}

// authorizeWrite aborts with 403 unless the signed-in uid owns the address.
// Profile documents themselves can never be deleted through the API.
func authorizeWrite(contextGin *gin.Context, address documentAddress, deleting bool) bool {
	owner, reserved := address.owner()
	if !reserved {
		return true
	}
	claims, ok := authkit.SessionClaims(contextGin)
	if !ok || owner == "" || owner != claims.GetUserID() || (deleting && address.collection == profile.UsersCollection) {
		authkit.AbortResult(contextGin, http.StatusForbidden, MessagePermissionDenied)
		return false
	}
	return true
}

func (routes *documentRoutes) read(contextGin *gin.Context) {
	ctx := contextGin.Request.Context()
	address := parseAddress(contextGin.Param("path"))
	if address.isDocument() {
		respondStore(contextGin, http.StatusOK, routes.store.Read(ctx, address.collection, address.documentID))
		return
	}
	options, err := parseQueryOptions(contextGin)
	if err != nil {
		authkit.AbortResult(contextGin, http.StatusBadRequest, messageInvalidQuery+err.Error())
		return
	}
	if contextGin.Query(queryCount) == "true" {
		if validateErr := docstore.ValidateCollectionPath(address.collection); validateErr != nil {
			authkit.AbortResult(contextGin, http.StatusBadRequest, messageInvalidCollectionPath)
			return
		}
		if validateErr := options.Validate(); validateErr != nil {
			authkit.AbortResult(contextGin, http.StatusBadRequest, messageInvalidQuery+"unsupported options")
			return
		}
		count := routes.store.Count(ctx, address.collection, options)
		authkit.RespondResult(contextGin, http.StatusOK, result.Ok(gin.H{"count": count}))
		return
	}
	respondStore(contextGin, http.StatusOK, routes.store.ReadCollection(ctx, address.collection, options))
}

// exists answers HEAD with 200 when the document is readable and 404 otherwise.
func (routes *documentRoutes) exists(contextGin *gin.Context) {
	address := parseAddress(contextGin.Param("path"))
	if !address.isDocument() {
		contextGin.Status(http.StatusBadRequest)
		return
	}
	if routes.store.Exists(contextGin.Request.Context(), address.collection, address.documentID) {
		contextGin.Status(http.StatusOK)
		return
	}
	contextGin.Status(http.StatusNotFound)
}

func (routes *documentRoutes) create(contextGin *gin.Context) {
	address := parseAddress(contextGin.Param("path"))
	if address.isDocument() {
		authkit.AbortResult(contextGin, http.StatusBadRequest, messageInvalidCollectionPath)
		return
	}
	if !authorizeWrite(contextGin, address, false) {
		return
	}
	fields, ok := bindFields(contextGin)
	if !ok {
		return
	}
	respondStore(contextGin, http.StatusCreated, routes.store.Create(contextGin.Request.Context(), address.collection, fields))
}

// write stores the body at a document path. ?upsert=true merge-writes without
// touching createdAt; ?merge=true merges into an existing document; otherwise
// the document is replaced.
func (routes *documentRoutes) write(contextGin *gin.Context) {
	address, ok := requireDocumentAddress(contextGin)
	if !ok || !authorizeWrite(contextGin, address, false) {
		return
	}
	fields, ok := bindFields(contextGin)
	if !ok {
		return
	}
	ctx := contextGin.Request.Context()
	if contextGin.Query("upsert") == "true" {
		respondStore(contextGin, http.StatusOK, routes.store.Upsert(ctx, address.collection, address.documentID, fields))
		return
	}
	merge := contextGin.Query("merge") == "true"
	respondStore(contextGin, http.StatusOK, routes.store.CreateWithID(ctx, address.collection, address.documentID, fields, merge))
}

func (routes *documentRoutes) update(contextGin *gin.Context) {
	address, ok := requireDocumentAddress(contextGin)
	if !ok || !authorizeWrite(contextGin, address, false) {
		return
	}
	fields, ok := bindFields(contextGin)
	if !ok {
		return
	}
	respondStore(contextGin, http.StatusOK, routes.store.Update(contextGin.Request.Context(), address.collection, address.documentID, fields))
}

func (routes *documentRoutes) remove(contextGin *gin.Context) {
	address, ok := requireDocumentAddress(contextGin)
	if !ok || !authorizeWrite(contextGin, address, true) {
		return
	}
	respondStore(contextGin, http.StatusOK, routes.store.Delete(contextGin.Request.Context(), address.collection, address.documentID))
}

func requireDocumentAddress(contextGin *gin.Context) (documentAddress, bool) {
	address := parseAddress(contextGin.Param("path"))
	if !address.isDocument() {
		authkit.AbortResult(contextGin, http.StatusBadRequest, messageInvalidDocumentID)
		return documentAddress{}, false
	}
	return address, true
}

func bindFields(contextGin *gin.Context) (docstore.Fields, bool) {
	var fields docstore.Fields
	if err := contextGin.ShouldBindJSON(&fields); err != nil || fields == nil {
		authkit.AbortResult(contextGin, http.StatusBadRequest, authkit.MessageInvalidRequest)
		return nil, false
	}
	return fields, true
}

// parseQueryOptions reads repeated filter=field,operator,value parameters plus
// order_by, direction and limit. Filter values are decoded as JSON and fall
// back to plain strings.
func parseQueryOptions(contextGin *gin.Context) (docstore.QueryOptions, error) {
	var options docstore.QueryOptions
	for _, raw := range contextGin.QueryArray(queryFilter) {
		parts := strings.SplitN(raw, ",", 3)
		if len(parts) != 3 {
			return docstore.QueryOptions{}, fmt.Errorf("filter %q must be field,operator,value", raw)
		}
		operator, err := docstore.ParseOperator(parts[1])
		if err != nil {
			return docstore.QueryOptions{}, fmt.Errorf("unsupported operator %q", parts[1])
		}
		options.Filters = append(options.Filters, docstore.Where(strings.TrimSpace(parts[0]), operator, decodeFilterValue(parts[2])))
	}
	options.OrderByField = strings.TrimSpace(contextGin.Query(queryOrderBy))
	options.OrderDirection = docstore.Direction(strings.TrimSpace(contextGin.Query(queryDirection)))
	if rawLimit := strings.TrimSpace(contextGin.Query(queryLimit)); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit < 0 {
			return docstore.QueryOptions{}, fmt.Errorf("limit %q must be a non-negative integer", rawLimit)
		}
		options.LimitCount = limit
	}
	return options, nil
}

func decodeFilterValue(raw string) any {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return raw
	}
	return decoded
}
