package flow

import (
	"context"
	"log/slog"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

func (e *Engine) onSurveyOffered(c *models.Conversation, in input, eff *effects) error {
	switch {
	case isAffirmative(in.text):
		c.Survey.Accepted = true
		c.Survey.QuestionIndex = 0
		c.Survey.Responses = nil
		c.States.Set(models.StateSurveyInProgress)
		eff.text(surveyQuestions[0])
	case isNegative(in.text):
		eff.text(msgSurveyDeclined)
		c.States.Clear(models.StateFinished)
		eff.finalize = true
	default:
		eff.buttons(msgSurveyOffer, surveyButtons)
	}
	return nil
}

func (e *Engine) onSurveyInProgress(c *models.Conversation, in input, eff *effects) error {
	score, ok := parseChoice(in.text, maxSurveyScore)
	if !ok {
		eff.text(msgSurveyScoreHelp)
		if c.Survey.QuestionIndex < len(surveyQuestions) {
			eff.text(surveyQuestions[c.Survey.QuestionIndex])
		}
		return nil
	}
	c.Survey.Responses = append(c.Survey.Responses, score)
	c.Survey.QuestionIndex++
	if c.Survey.QuestionIndex < len(surveyQuestions) {
		eff.text(surveyQuestions[c.Survey.QuestionIndex])
		return nil
	}
	eff.recordSurvey = append([]int(nil), c.Survey.Responses...)
	eff.text(msgSurveyThanks)
	c.States.Clear(models.StateFinished)
	eff.finalize = true
	return nil
}

func (e *Engine) recordSurvey(ctx context.Context, identity string, scores []int) {
	if e.deps.Surveys == nil {
		slog.Debug("Engine.recordSurvey: no recorder configured", "identity", identity)
		return
	}
	if err := e.deps.Surveys.RecordSurvey(ctx, identity, scores); err != nil {
		slog.Error("Engine.recordSurvey: failed", "identity", identity, "error", err)
		return
	}
	slog.Info("Engine.recordSurvey: recorded", "identity", identity, "answers", len(scores))
}
