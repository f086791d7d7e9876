package llm

import (
	"fmt"
	"strings"
)

// BuildSQLPrompt renders the prompt that asks the model to translate a
// natural-language question into a single SQL query against the described
// schema. Prior relevant exchanges are included so follow-up questions
// ("same thing but for 2018") resolve against earlier SQL.
func BuildSQLPrompt(schemaDescription, contextBlock, question string) string {
	var b strings.Builder

	b.WriteString("You are an expert SQL analyst. Generate a SQL query to answer the user's question.\n\n")
	b.WriteString("Database schema:\n")
	b.WriteString(schemaDescription)
	b.WriteString("\n")

	if contextBlock != "" {
		b.WriteString("Relevant previous exchanges from this conversation and others:\n")
		b.WriteString(contextBlock)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "User question: %s\n\n", question)

	b.WriteString("Rules:\n")
	b.WriteString("1. Return ONLY the SQL query, with no explanation, commentary, or markdown.\n")
	b.WriteString("2. The query must be a single SELECT statement. Never generate INSERT, UPDATE, DELETE, DROP, ALTER, or any other statement that modifies data or schema.\n")
	b.WriteString("3. Use only tables and columns that appear in the schema above.\n")
	b.WriteString("4. Prefer explicit JOIN conditions over implicit joins.\n")
	b.WriteString("5. If the question references an earlier result, adapt the earlier SQL rather than starting over.\n")

	return b.String()
}

// BuildAnalysisPrompt renders the prompt that asks the model to interpret
// query results for the user. The rows argument is a JSON rendering of the
// result set, already capped by the caller.
func BuildAnalysisPrompt(question, sqlQuery, rows string) string {
	var b strings.Builder

	b.WriteString("You are a data analyst. A user asked a question, SQL was run against the database, and the results are below.\n\n")
	fmt.Fprintf(&b, "User question: %s\n\n", question)
	fmt.Fprintf(&b, "SQL query:\n%s\n\n", sqlQuery)
	fmt.Fprintf(&b, "Query results (JSON):\n%s\n\n", rows)

	b.WriteString("Write an analysis for the user covering:\n")
	b.WriteString("- A direct answer to the question\n")
	b.WriteString("- Key insights from the data\n")
	b.WriteString("- Notable patterns or anomalies, if any\n")
	b.WriteString("- Practical implications or recommendations, when the data supports them\n\n")
	b.WriteString("Be concise and concrete. Do not restate the SQL or describe the table structure.\n")

	return b.String()
}

// ContextSnippetBlock formats retrieved memory snippets for inclusion in
// the SQL generation prompt. Each snippet carries its provenance so the
// model can weigh current-session history above other sessions'.
func ContextSnippetBlock(snippets []string) string {
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	for i, s := range snippets {
		fmt.Fprintf(&b, "--- Exchange %d ---\n%s\n", i+1, s)
	}
	return b.String()
}
