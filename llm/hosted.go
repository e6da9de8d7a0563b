package llm

// hostedDefaults describes an OpenAI-compatible service: where it lives,
// which API path prefix it uses and the model assumed when none is set.
type hostedDefaults struct {
	baseURL string
	prefix  string
	model   string
}

// hosted lists the OpenAI-compatible services NewProvider knows by name.
// Gemini serves the OpenAI surface without the /v1 prefix.
var hosted = map[string]hostedDefaults{
	"openai":     {baseURL: "https://api.openai.com", prefix: "/v1", model: "text-embedding-3-small"},
	"groq":       {baseURL: "https://api.groq.com/openai", prefix: "/v1", model: "llama-3.3-70b-versatile"},
	"openrouter": {baseURL: "https://openrouter.ai/api", prefix: "/v1"},
	"xai":        {baseURL: "https://api.x.ai", prefix: "/v1"},
	"lmstudio":   {baseURL: "http://localhost:1234", prefix: "/v1"},
	"gemini":     {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", prefix: ""},
}

func newHosted(cfg Config, h hostedDefaults) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = h.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = h.model
	}
	return &compatProvider{http: newHTTPClient(cfg, h.prefix)}
}
