package ollama

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"

	"github.com/inrep-lab/lexgraph/backend/pkg/ai"
)

// GraphOllamaClient implements ai.Client against a locally hosted Ollama
// server. A weighted semaphore caps concurrent requests so batch jobs
// cannot overload the local model runner.
type GraphOllamaClient struct {
	embeddingModel string
	answerModel    string

	embeddingDimensions int

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewGraphOllamaClientParams configures a new GraphOllamaClient.
type NewGraphOllamaClientParams struct {
	EmbeddingModel string
	AnswerModel    string

	EmbeddingDimensions int

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient connects to the Ollama server at BaseURL (or the
// default when empty) with the configured models.
func NewGraphOllamaClient(params NewGraphOllamaClientParams) (*GraphOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)
	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: map[string]string{
				"Authorization": "Bearer " + params.ApiKey,
			},
			rt: http.DefaultTransport,
		},
	}

	maxConcurrent := params.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	return &GraphOllamaClient{
		embeddingModel:      params.EmbeddingModel,
		answerModel:         params.AnswerModel,
		embeddingDimensions: params.EmbeddingDimensions,

		reqLock: semaphore.NewWeighted(maxConcurrent),

		metricsLock: sync.Mutex{},

		Client: api.NewClient(u, httpClient),
	}, nil
}
