package engine

// Built-in prompt templates. Phase one renders these with text/template
// (graph knowledge, history, question); double angle-bracket markers survive
// to phase two and are filled by the generation stage per model call.

const defaultCondenseQuestion = `Current Date: {{ .current_date }}

Given the following conversation between the user and the assistant, along with
relevant knowledge graph context, rephrase the user's follow-up question into a
single, self-contained question.

Knowledge graph information:
{{ .graph_knowledges }}

Chat history:
{{ .chat_history }}

Follow-up question: {{ .question }}

Respond with the rephrased standalone question on one line and nothing else.`

const defaultTextQA = `Knowledge graph information is below
---------------------
{{ .graph_knowledges }}
---------------------

Context information is below.
---------------------
<<context_str>>
---------------------

Answer format:
Use markdown footnotes to cite the context, for example [^1].

Given the context information, the knowledge graph information, and no prior
knowledge, answer the question.

Question: <<query_str>>
Answer:`

const defaultRefine = `Knowledge graph information is below
---------------------
{{ .graph_knowledges }}
---------------------

The original answer is below.
---------------------
<<existing_answer>>
---------------------

We have the opportunity to refine the original answer with more context.
---------------------
<<context_msg>>
---------------------

Given the new context and the knowledge graph information, refine the original
answer to the question: <<query_str>>. If the new context is not useful, return
the original answer.

Refined Answer:`

const defaultNormalGraphKnowledge = `Entities:
{{ range .entities }}- {{ .Name }}: {{ .Description }}
{{ end }}
Relationships:
{{ range .relationships }}- {{ .Description }} (weight: {{ .Weight }})
{{ end }}`

const defaultIntentGraphKnowledge = `{{ range .sub_queries }}Sub-query: {{ .Query }}

Entities:
{{ range .Entities }}- {{ .Name }}: {{ .Description }}
{{ end }}
Relationships:
{{ range .Relationships }}- {{ .Description }} (weight: {{ .Weight }})
{{ end }}
{{ end }}`

// Default returns the built-in engine configuration. Engine rows store only
// the fields they override.
func Default() *Config {
	return &Config{
		Name: DefaultEngineName,
		KnowledgeGraph: KnowledgeGraphConfig{
			Enabled:           true,
			Depth:             2,
			IncludeMeta:       true,
			WithDegree:        false,
			UsingIntentSearch: false,
		},
		Prompts: Prompts{
			CondenseQuestion:     defaultCondenseQuestion,
			TextQA:               defaultTextQA,
			Refine:               defaultRefine,
			IntentGraphKnowledge: defaultIntentGraphKnowledge,
			NormalGraphKnowledge: defaultNormalGraphKnowledge,
		},
		RerankerEnabled: false,
		RerankerTopN:    10,
	}
}
