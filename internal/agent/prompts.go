package agent

import (
	"fmt"
	"strings"

	"github.com/kalambet/askdb/internal/llm"
)

const classificationPromptTemplate = `You are an intent classifier. Determine if the user's question requires database/SQL operations or is a general chat question.

Context from previous conversations:
%s

Classify the following question as either 'sql' or 'chat':

SQL-related questions include:
- Questions about data, records, statistics
- Requests to find, show, list, count items
- Questions about students, customers, products, orders, etc.
- Analytical questions requiring database queries
- Questions that reference previous SQL results or data

Chat questions include:
- General conversation
- Questions about the system capabilities
- Greetings and pleasantries
- Help requests not related to data
- Questions about how to use the system

Question: %s
Resolved Question: %s

Respond with ONLY 'sql' or 'chat' (no explanations):`

func classificationMessages(memoryContext, question, resolved string) []llm.Message {
	return []llm.Message{{
		Role:    llm.RoleSystem,
		Content: fmt.Sprintf(classificationPromptTemplate, memoryContext, question, resolved),
	}}
}

const chatPromptTemplate = `You are a helpful AI assistant for a database query system. The user has asked a general question that doesn't require database access.

Context from previous conversations:
%s

Original Question: %s
Resolved Question: %s

Provide a helpful, friendly response. If the user is asking about the system's capabilities, explain that you can:
1. Answer questions about data in the database
2. Generate and execute SQL queries based on natural language questions
3. Remember context from previous conversations
4. Have general conversations like this one

Please respond naturally and helpfully to their question.`

func chatMessages(memoryContext, question, resolved string) []llm.Message {
	return []llm.Message{{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf(chatPromptTemplate, memoryContext, question, resolved),
	}}
}

const querySystemPromptTemplate = `You are an expert SQL query generator with memory of previous interactions. Your task is to generate a syntactically correct sqlite SQL query from the user's natural language question.

%s

CRITICAL RULES FOR MEMORY AND CONTEXT:
1. ALWAYS pay close attention to the conversation context above.
2. If the question contains pronouns (her, his, their, it, she, he, they), use the context to identify what they refer to.
3. If the question refers to a person or entity mentioned in previous interactions, use that information.
4. The resolved question should guide your SQL generation: %[2]s

CRITICAL SQL RULES:
1. Use ONLY the exact table names and column names provided in the schema below.
2. Column names are case-sensitive - use exact capitalization as shown.
3. Never assume or invent column names - only use those explicitly listed.
4. Do NOT use SELECT * - always specify only the relevant columns.
5. Unless the question explicitly requests more, limit the result to %[3]d rows.
6. For date/time filtering or extraction, use SQLite functions: strftime('%%Y', column), strftime('%%m', column).
7. For text matching, use LIKE with %% wildcards (e.g., WHERE name LIKE '%%john%%').
8. When searching by name, always use the column named 'name' (not 'username', etc.).
9. Do not use aliases, subqueries, or joins unless necessary to answer the question.
10. Only include valid SQL syntax for the sqlite dialect.
11. Use lowercase for text values in WHERE clauses since all text data is stored in lowercase.
12. When searching by id, check the column name for 'user_id', 'student_id', etc., and use it exactly as shown in the schema.

IMPORTANT:
- ALWAYS consider the conversation context when interpreting the question.
- If a pronoun or reference is unclear, look at the previous interactions to resolve it.
- The resolved question "%[2]s" should be your primary guide.

DATABASE SCHEMA:
%[4]s

Convert the user question into a valid SQL query, considering the conversation context and resolved question.

Only output the SQL query - no explanations, no markdown formatting.`

const queryTopK = 10

func queryMessages(memoryContext, resolved, schema, question, feedback string) []llm.Message {
	user := fmt.Sprintf("Question: %s", question)
	if feedback != "" {
		user += fmt.Sprintf("\n\nUse this feedback to improve the query: %s -> It is very important to keep in mind if feedback is present", feedback)
	}
	return []llm.Message{
		{
			Role:    llm.RoleSystem,
			Content: fmt.Sprintf(querySystemPromptTemplate, memoryContext, resolved, queryTopK, schema),
		},
		{Role: llm.RoleUser, Content: user},
	}
}

func answerMessages(s State) []llm.Message {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant that answers questions based on database query results and conversation history. ")
	sb.WriteString("Use the SQL result to provide a direct, natural language answer to the user's question. ")
	sb.WriteString("Consider the conversation history when relevant, and acknowledge when you're building on previous information. ")
	sb.WriteString("Do not suggest query modifications or provide technical explanations unless asked.\n\n")
	fmt.Fprintf(&sb, "Original Question: %s\n", s.Question)
	fmt.Fprintf(&sb, "Resolved Question: %s\n", s.ResolvedQuestion)
	fmt.Fprintf(&sb, "SQL Query Used: %s\n", s.Query)
	fmt.Fprintf(&sb, "SQL Result: %s\n\n", s.Result)
	fmt.Fprintf(&sb, "Feedback: %s\n\n", s.Feedback)
	if s.MemoryContext != "" {
		fmt.Fprintf(&sb, "Conversation Context:\n%s\n\n", s.MemoryContext)
	}
	sb.WriteString("Please provide a clear, direct answer to the user's question using the information from the SQL result.")

	return []llm.Message{{Role: llm.RoleUser, Content: sb.String()}}
}
