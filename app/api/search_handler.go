package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"mdrag/app/search"
	"mdrag/types"
)

const suggestionLimit = 5

var suggestionTopics = []string{
	"6809 assembly programming",
	"C programming examples",
	"graphics mode programming",
	"text mode display",
	"memory map",
	"hardware registers",
	"compilation tools",
	"BASIC programming",
	"interrupt handling",
	"disk image creation",
}

type SearchHandler struct {
	engine *search.Engine
}

func NewSearchHandler(engine *search.Engine) *SearchHandler {
	return &SearchHandler{engine: engine}
}

// HandleSearch serves POST /api/search.
func (h *SearchHandler) HandleSearch(c *fiber.Ctx) error {
	req := types.NewSearchRequest()
	if err := c.BodyParser(&req); err != nil {
		return ErrBadRequest()
	}
	return h.search(c, req)
}

// HandleQuery serves GET /api/search with query string parameters.
func (h *SearchHandler) HandleQuery(c *fiber.Ctx) error {
	req := types.SearchRequest{
		Query:              c.Query("q"),
		MaxResults:         c.QueryInt("maxResults", types.DefaultMaxResults),
		MinSimilarityScore: c.QueryFloat("minScore", types.DefaultMinSimilarityScore),
		Tags:               splitTags(c.Query("tags")),
		IncludeMetadata:    c.QueryBool("includeMetadata", true),
		IncludeContext:     c.QueryBool("includeContext", false),
	}
	return h.search(c, req)
}

func (h *SearchHandler) search(c *fiber.Ctx, req types.SearchRequest) error {
	if errors := req.Validate(); len(errors) > 0 {
		return NewValidationError(errors)
	}
	resp, err := h.engine.Search(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

// HandleSuggestions returns topics containing the partial query.
func (h *SearchHandler) HandleSuggestions(c *fiber.Ctx) error {
	partial := strings.ToLower(c.Query("partial"))
	limit := c.QueryInt("limit", suggestionLimit)

	suggestions := []string{}
	if strings.TrimSpace(partial) == "" || len([]rune(partial)) < 2 || limit <= 0 {
		return c.JSON(suggestions)
	}
	for _, topic := range suggestionTopics {
		if strings.Contains(strings.ToLower(topic), partial) {
			suggestions = append(suggestions, topic)
			if len(suggestions) == limit {
				break
			}
		}
	}
	return c.JSON(suggestions)
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
