package fallback

// Phrase pools. Selection is by seed, so changing the order or contents of
// any pool changes the wording of every synthesized item.

var mcIntros = []string{
	"This question asks about %s.",
	"The prompt centers on %s.",
	"At its core, the item concerns %s.",
	"The question focuses on %s.",
	"This item is about %s.",
}

var mcReasoning = []string{
	"The keyed answer is %s, which is the choice most consistent with the information given.",
	"Option %s is marked correct because it best satisfies the condition the question describes.",
	"The answer %s aligns with the rule that the question is testing.",
	"Choice %s is the one that holds up when each option is compared against the question.",
}

var mcDistractors = []string{
	"The remaining options each conflict with at least one detail of the question.",
	"The other choices may look plausible, but none of them fully meets the stated condition.",
	"Every other option misses a key requirement, which is why they are not selected.",
	"The alternatives fail when they are checked against the facts in the question.",
}

var closings = []string{
	"Reviewing the underlying concept will help confirm why this answer holds.",
	"Revisiting the relevant definition is the fastest way to verify this reasoning.",
	"Working through a similar example is a good way to reinforce the idea.",
	"Checking the source material for this topic will make the distinction clear.",
}

var frIntros = []string{
	"This prompt asks for a written response about %s.",
	"The question invites an explanation of %s.",
	"A complete answer here should address %s.",
	"The task is to discuss %s.",
}

var frBodies = []string{
	"A strong response defines the key terms, explains how they relate, and supports the conclusion with a concrete example.",
	"Good answers state the main idea first and then back it up with specific evidence or reasoning.",
	"The response should identify the central concept and describe why it matters in this context.",
	"An effective answer walks through the reasoning step by step rather than stating a bare conclusion.",
}

// frPlaceholder is the answer used when neither the service nor the item
// supplies one.
const frPlaceholder = "No answer could be generated automatically. Please review this item."

// connectives open per-option explanations. Each must be a single word so
// that the opening word of a rewritten explanation is the connective itself.
var connectives = []string{
	"Here", "Notably", "Indeed", "Clearly", "Likewise", "Meanwhile",
	"Similarly", "Conversely", "Additionally", "Finally", "Importantly",
	"Specifically", "Consequently", "Alternatively", "Ultimately", "Accordingly",
}

var correctFrames = []string{
	"option %s is correct because it matches what the question is asking for.",
	"option %s is the right choice since it satisfies the stated condition.",
	"option %s holds up when checked against the details of the question.",
}

var incorrectFrames = []string{
	"option %s is incorrect because it does not satisfy the stated condition.",
	"option %s is not the answer since it conflicts with the question.",
	"option %s falls short when checked against the details of the question.",
}
