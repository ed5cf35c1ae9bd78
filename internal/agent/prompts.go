package agent

// systemInstruction primes the reasoning model with its role and the
// capability surface it can draw on.
const systemInstruction = `You are a helpful AI assistant with access to various tools including web search, academic paper search, and document retrieval. Use the appropriate tools to answer user questions accurately and thoroughly. If you cannot find relevant information using the available tools, clearly state that you were unable to find the requested information.

If the user needs to provide more information before you can complete the request, begin your reply with exactly "INPUT_REQUIRED: " followed by the question you need answered. Otherwise reply with the answer alone.`

// inputRequiredMarker prefixes an answer that is really a question back
// to the user. The loop detects it and suspends the task instead of
// running the helpfulness check.
const inputRequiredMarker = "INPUT_REQUIRED:"

// gatePromptTemplate is the helpfulness evaluation prompt. It sees only
// the original query and the candidate answer, never the reasoning
// model's own context, so it cannot defer to the model's
// self-assessment.
const gatePromptTemplate = `Given an initial query and a final response, determine if the final response is extremely helpful or not.
A helpful response should:
- Provide accurate and relevant information
- Be complete and address the user's specific need
- Use appropriate tools when necessary

Please indicate helpfulness with a 'Y' and unhelpfulness as an 'N', followed by a one-sentence reason.

Initial Query:
%s

Final Response:
%s`

// revisionPrompt carries the gate's rationale back into the reasoning
// context for the next attempt.
const revisionPrompt = `Your previous answer was judged not helpful enough. Reviewer feedback: %s

Produce an improved answer to the original question. Use tools again if they would help.`
