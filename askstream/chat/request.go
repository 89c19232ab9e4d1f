package chat

import (
	"net/http"
	"strings"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
)

// Overrides are the retrieval and generation parameters sent with every
// chat request. String fields left empty are omitted from the payload.
type Overrides struct {
	PromptTemplate           string  `json:"prompt_template,omitempty"`
	IncludeCategory          string  `json:"include_category,omitempty"`
	ExcludeCategory          string  `json:"exclude_category,omitempty"`
	Top                      int     `json:"top"`
	MaxSubqueries            int     `json:"max_subqueries"`
	ResultsMergeStrategy     string  `json:"results_merge_strategy,omitempty"`
	Temperature              float64 `json:"temperature"`
	MinimumRerankerScore     float64 `json:"minimum_reranker_score"`
	MinimumSearchScore       float64 `json:"minimum_search_score"`
	RetrievalMode            string  `json:"retrieval_mode,omitempty"`
	SemanticRanker           bool    `json:"semantic_ranker"`
	SemanticCaptions         bool    `json:"semantic_captions"`
	QueryRewriting           bool    `json:"query_rewriting"`
	ReasoningEffort          string  `json:"reasoning_effort,omitempty"`
	SuggestFollowupQuestions bool    `json:"suggest_followup_questions"`
	UseOIDSecurityFilter     bool    `json:"use_oid_security_filter"`
	UseGroupsSecurityFilter  bool    `json:"use_groups_security_filter"`
	VectorFields             string  `json:"vector_fields,omitempty"`
	UseGPT4V                 bool    `json:"use_gpt4v"`
	GPT4VInput               string  `json:"gpt4v_input,omitempty"`
	Language                 string  `json:"language,omitempty"`
	UseAgenticRetrieval      bool    `json:"use_agentic_retrieval"`
	Seed                     *int    `json:"seed,omitempty"`
}

// DefaultOverrides mirrors the web client's stock settings.
func DefaultOverrides() Overrides {
	return Overrides{
		Top:                  3,
		MaxSubqueries:        10,
		ResultsMergeStrategy: "interleaved",
		Temperature:          0.3,
		RetrievalMode:        "vectors",
		SemanticRanker:       true,
		VectorFields:         "textAndImageEmbeddings",
		GPT4VInput:           "textAndImages",
		Language:             "ja",
	}
}

// Request is the body POSTed to the chat endpoint.
type Request struct {
	Messages     []model.Message `json:"messages"`
	Context      RequestContext  `json:"context"`
	SessionState any             `json:"session_state"`
}

type RequestContext struct {
	Overrides Overrides `json:"overrides"`
}

// BuildRequest flattens the turns preceding a question into the wire
// request. Only succeeded turns contribute messages; the session state is
// carried over from the immediately preceding turn.
func BuildRequest(history []model.Turn, question string, overrides Overrides) Request {
	messages := make([]model.Message, 0, 2*len(history)+1)
	for _, t := range history {
		if t.Phase != model.PhaseSucceeded {
			continue
		}
		messages = append(messages,
			model.Message{Content: normalize(t.Question), Role: model.RoleUser},
			model.Message{Content: t.Answer.Message.Content, Role: model.RoleAssistant},
		)
	}
	messages = append(messages, model.Message{Content: normalize(question), Role: model.RoleUser})

	var session any
	if n := len(history); n > 0 {
		session = history[n-1].Answer.SessionState
	}

	return Request{
		Messages:     messages,
		Context:      RequestContext{Overrides: overrides},
		SessionState: session,
	}
}

// HeaderBuilder decorates an outgoing request with credentials. token is
// empty for unauthenticated callers.
type HeaderBuilder func(h http.Header, token string)

// BearerHeaders sets the static extra headers, then an Authorization header
// when a token is present.
func BearerHeaders(extra map[string]string) HeaderBuilder {
	return func(h http.Header, token string) {
		for k, v := range extra {
			h.Set(k, v)
		}
		if token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
	}
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}
