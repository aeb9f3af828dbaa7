package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/udahub-cluster/supportcore/commbus"
	"github.com/udahub-cluster/supportcore/ticketcore/fault"
	"github.com/udahub-cluster/supportcore/ticketcore/knowledge"
	"github.com/udahub-cluster/supportcore/ticketcore/llm"
	"github.com/udahub-cluster/supportcore/ticketcore/session"
	"github.com/udahub-cluster/supportcore/ticketcore/typeutil"
)

const retrieverJudgePrompt = `You are the retriever for UDA-Hub, a customer support platform.

The knowledge base has been searched for the customer's issue. Read each
returned article and judge, purely from the content, whether the
knowledge base contains enough information to resolve the issue.

Assign a confidence score:
- 0.8 - 1.0 : article(s) directly and fully address the customer's question
- 0.6 - 0.79: content is relevant and partially answers the question
- 0.4 - 0.59: content is only tangentially related
- 0.0 - 0.39: no article meaningfully addresses the issue

Do NOT attempt to answer the customer's question.

Respond with a single JSON object and nothing else:
{"confidence": 0.0, "articles_found": 0}`

// DefaultSearchLimit caps how many articles a search pulls for judging.
const DefaultSearchLimit = 3

// Retriever searches the knowledge base and scores how well the
// material covers the customer's issue. It never touches the
// classification fields.
type Retriever struct {
	reasoner    llm.Reasoner
	searcher    knowledge.Searcher
	searchLimit int
	logger      commbus.Logger
}

// NewRetriever creates the retriever stage.
func NewRetriever(reasoner llm.Reasoner, searcher knowledge.Searcher, logger commbus.Logger) *Retriever {
	if logger == nil {
		logger = commbus.NopLogger{}
	}
	return &Retriever{
		reasoner:    reasoner,
		searcher:    searcher,
		searchLimit: DefaultSearchLimit,
		logger:      logger.Bind("stage", "retriever"),
	}
}

// Kind implements the Stage interface.
func (r *Retriever) Kind() Kind { return KindRetriever }

// Run implements the Stage interface.
func (r *Retriever) Run(ctx context.Context, sess *session.Session, msg session.Message) (*session.Session, Signal, error) {
	out := sess.Clone()

	query := out.LastCustomerMessage()
	if query == "" {
		query = msg.Content
	}

	articles, err := r.searcher.Search(ctx, query, r.searchLimit)
	if err != nil {
		return nil, nil, fault.NewCollaboratorFailure(fault.CollaboratorKnowledge, err)
	}

	// An empty result set needs no judgment call.
	if len(articles) == 0 {
		out.RetrievalConfidence = ptrFloat(0.0)
		out.ArticlesFound = 0
		out.AppendMessage(session.RoleSystem, "RETRIEVED: confidence=0.00, articles_found=0")
		r.logger.Info("retrieval_complete",
			"session_id", out.SessionID,
			"confidence", 0.0,
			"articles_found", 0,
		)
		return out, RetrievalResult{Confidence: 0.0, ArticlesFound: 0}, nil
	}

	confidence, err := r.judge(ctx, query, articles)
	if err != nil {
		return nil, nil, err
	}

	out.RetrievalConfidence = ptrFloat(confidence)
	out.ArticlesFound = len(articles)
	out.AppendMessage(session.RoleSystem, renderArticles(confidence, articles))

	r.logger.Info("retrieval_complete",
		"session_id", out.SessionID,
		"confidence", confidence,
		"articles_found", len(articles),
	)

	return out, RetrievalResult{Confidence: confidence, ArticlesFound: len(articles)}, nil
}

// judge asks the reasoner to score knowledge coverage for the query.
func (r *Retriever) judge(ctx context.Context, query string, articles []knowledge.Article) (float64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Customer issue:\n%s\n\nRetrieved articles:\n", query)
	for i, a := range articles {
		fmt.Fprintf(&b, "\n[%d] %s\n%s\n", i+1, a.Title, a.Content)
	}

	response, err := r.reasoner.Infer(ctx, retrieverJudgePrompt, b.String())
	if err != nil {
		return 0, wrapReasonerErr(err)
	}

	parsed, err := extractAndParseJSON(response)
	if err != nil {
		return 0, parseFault(KindRetriever, err)
	}
	confidence, ok := typeutil.SafeFloat64(parsed["confidence"])
	if !ok {
		return 0, parseFault(KindRetriever, fmt.Errorf("missing confidence field"))
	}
	if confidence < 0.0 || confidence > 1.0 {
		return 0, parseFault(KindRetriever, fmt.Errorf("confidence %v out of range [0,1]", confidence))
	}
	return confidence, nil
}

// renderArticles writes the retrieval summary the resolver reads as
// its policy source.
func renderArticles(confidence float64, articles []knowledge.Article) string {
	var b strings.Builder
	fmt.Fprintf(&b, "RETRIEVED: confidence=%.2f, articles_found=%d\n", confidence, len(articles))
	for _, a := range articles {
		fmt.Fprintf(&b, "\n### %s\n%s\n", a.Title, a.Content)
	}
	return b.String()
}

func ptrFloat(v float64) *float64 { return &v }

// Ensure Retriever implements Stage.
var _ Stage = (*Retriever)(nil)
