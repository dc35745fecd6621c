package flow

import "github.com/ethangolledge/vapebot/internal/models"

const (
	startText = "Hello!\n\n" +
		"This is an open-source messaging service designed to help manage addictive habits, " +
		"such as vaping, through tracking, analytics, and accountability.\n\n" +
		"It's a work in progress. Send /setup to set your baseline and goal, or /help to see what I can do."

	helpText = "Here are the commands you can use:\n" +
		"/setup - Start or redo the setup for tracking and goals\n" +
		"/cancel - Stop the setup while it is in progress\n" +
		"/help - Show this message"

	tokesQuestion    = "How many tokes do you have a day?"
	strengthQuestion = "Sickna mate.\nWhat strength nicotine are you chomping through? e.g. 3mg, 6mg, 12mg"
	methodQuestion   = "How do you want to reduce vaping?\nChoose a method:"
	numberGoalText   = "How many tokes do you want to cut down per day?"
	percentGoalText  = "What percentage of your daily tokes do you want to cut down?"

	setupIntro      = "Let's start setup.\n"
	setupCancelHint = "\n\nSend /cancel to stop setup."
	completeSuffix  = "\nSetup complete! Send /setup to change anything."
	cancelledText   = "Setup cancelled. You can start again with /setup."
	nothingToCancel = "There's no setup in progress. Send /setup to start one."
	chooseOption    = "Please choose one of the options."
	emptyAnswer     = "I didn't get an answer there."
)

// methodKeyboard lists the reduction methods a user can pick from.
var methodKeyboard = []models.Choice{
	{Label: "By A Set Number", Payload: string(models.MethodNumber)},
	{Label: "Percent", Payload: string(models.MethodPercent)},
}

func choiceLabel(payload string) string {
	for _, c := range methodKeyboard {
		if c.Payload == payload {
			return c.Label
		}
	}
	return payload
}

func goalQuestion(m models.Method) string {
	if m == models.MethodPercent {
		return percentGoalText
	}
	return numberGoalText
}

// question returns the prompt that asks for the answer state s awaits.
func question(s State, method *models.Method) models.Prompt {
	switch s {
	case StateAwaitTokes:
		return models.Prompt{Text: tokesQuestion}
	case StateAwaitStrength:
		return models.Prompt{Text: strengthQuestion}
	case StateAwaitMethod:
		return models.Prompt{Text: methodQuestion, Keyboard: methodKeyboard}
	case StateAwaitGoal:
		m := models.MethodNumber
		if method != nil {
			m = *method
		}
		return models.Prompt{Text: goalQuestion(m)}
	default:
		return models.Prompt{}
	}
}

// retry prefixes the current question with the reason the last answer was not accepted.
func retry(reason string, s State, method *models.Method) models.Prompt {
	q := question(s, method)
	q.Text = reason + "\n" + q.Text
	return q
}
