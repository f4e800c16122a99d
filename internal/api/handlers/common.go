// Package handlers implements the HTTP surface of spec §6: one gin
// handler per route, translating query/body parameters into calls
// against the Token Service (C1) and Resource Manager (C8), and
// letting apperr-classified errors flow to gin's error chain where
// internal/api/middleware.ErrorHandler renders spec §6's envelope.
//
// Grounded on the teacher's internal/api/handlers/switches.go for the
// one-handler-per-route shape (bind → call service → respond), with
// the response/listing conventions generalized from the original
// source's routes/v1/* handlers (offset/limit/sort/contains query
// parameters, a cursor in list responses).
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/store"
)

// listParams parses spec §6's common listing query parameters:
// offset, limit, sort ("key:(asc|desc)[,...]"), and contains
// (substring filter).
func listParams(c *gin.Context, allowed map[string]bool) (store.ListOptions, string, error) {
	opts := store.ListOptions{CursorMax: 100}

	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, "", apperr.Parameter(apperr.CodeParam, "offset must be a non-negative integer")
		}
		opts.Offset = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, "", apperr.Parameter(apperr.CodeParam, "limit must be a non-negative integer")
		}
		opts.Limit = n
	}
	if v := c.Query("sort"); v != "" {
		for _, field := range strings.Split(v, ",") {
			field = strings.TrimSpace(field)
			key, dir, hasDir := strings.Cut(field, ":")
			asc := true
			if hasDir {
				switch strings.ToLower(dir) {
				case "asc":
					asc = true
				case "desc":
					asc = false
				default:
					return opts, "", apperr.Parameter(apperr.CodeParam, "sort direction must be asc or desc: "+field)
				}
			}
			opts.Sort = append(opts.Sort, store.SortKey{Key: key, Asc: asc})
		}
		if err := store.AllowedSortKeys(opts.Sort, allowed); err != nil {
			return opts, "", apperr.Parameter(apperr.CodeParam, err.Error())
		}
	}

	return opts, c.Query("contains"), nil
}

// cursorParam decodes the opaque "cursor" query parameter spec §6
// uses to resume a capped listing.
func cursorParam(c *gin.Context) (*store.Cursor, error) {
	cur, err := store.DecodeCursor(c.Query("cursor"))
	if err != nil {
		return nil, apperr.Parameter(apperr.CodeParam, err.Error())
	}
	return cur, nil
}

// renderList writes spec §6's list response: a bare JSON array when
// format=array is requested, otherwise {"data": [...]} with a cursor
// for the next slice when the listing was capped short of the
// caller's limit.
func renderList(c *gin.Context, items any, cur *store.Cursor) {
	if strings.EqualFold(c.Query("format"), "array") {
		ok(c, items)
		return
	}
	body := gin.H{"data": items}
	if cur != nil {
		body["cursor"] = cur.Encode()
	}
	ok(c, body)
}

// bindJSON reports a parameter error through the standard envelope
// rather than gin's default plain-text 400 on a malformed body.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.Error(apperr.Parameter(apperr.CodeParam, "invalid request body: "+err.Error()))
		c.Abort()
		return false
	}
	return true
}

func ok(c *gin.Context, body any) { c.JSON(http.StatusOK, body) }

func created(c *gin.Context, body any) { c.JSON(http.StatusCreated, body) }

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }
