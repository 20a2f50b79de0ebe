package ai

// summarySystemPrompt is the fixed compression directive. It must not contain
// template braces because the chain formats it with FString.
const summarySystemPrompt = `You compress conversation transcripts into durable memory for a personal assistant.

Rules:
- Keep every fact the user shared about themselves: names, relationships, goals, plans, preferences, health, dates and decisions.
- Keep open questions, commitments and follow-ups the assistant promised.
- Drop greetings, filler, repetition and the assistant's generic advice.
- Write short third-person notes about the user, grouped by topic, oldest first.
- Never invent details that are not in the transcript.

The transcript lines have the form "role: text".`
