package relay

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wfunc/gamerelay/models"
)

// WeiToEther converts native-currency base units (18 decimals).
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -18)
}

var (
	coinSides = []string{"Heads", "Tails"}
	rpsHands  = []string{"Rock", "Paper", "Scissors"}
)

func label(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return fmt.Sprintf("#%d", i)
	}
	return names[i]
}

// RPS result codes emitted by GameSettled.
const (
	rpsPlayerWins = 0
	rpsHouseWins  = 1
	rpsDraw       = 2
)

func flipOutcome(choice int, won bool, side uint8, payout *big.Int) *models.Outcome {
	out := &models.Outcome{Verdict: models.VerdictLose, Payout: WeiToEther(payout)}
	if won {
		out.Verdict = models.VerdictWin
	}
	out.Detail = fmt.Sprintf("landed %s, chose %s", label(coinSides, int(side)), label(coinSides, choice))
	return out
}

func flipMessage(choice int, side uint8, out *models.Outcome) string {
	if out.Verdict == models.VerdictWin {
		return fmt.Sprintf("The coin landed on *%s*!\n\nYou chose *%s* and WON!\n\nYou've received %s ETH.",
			label(coinSides, int(side)), label(coinSides, choice), out.Payout.String())
	}
	return fmt.Sprintf("The coin landed on *%s*.\n\nYou chose *%s* and lost.\nBetter luck next time!",
		label(coinSides, int(side)), label(coinSides, choice))
}

func rpsOutcome(playerChoice, houseChoice, result uint8, payout *big.Int) *models.Outcome {
	out := &models.Outcome{Payout: WeiToEther(payout)}
	switch result {
	case rpsPlayerWins:
		out.Verdict = models.VerdictWin
	case rpsDraw:
		out.Verdict = models.VerdictDraw
	default:
		out.Verdict = models.VerdictLose
	}
	out.Detail = fmt.Sprintf("%s vs %s", label(rpsHands, int(playerChoice)), label(rpsHands, int(houseChoice)))
	return out
}

func rpsMessage(playerChoice, houseChoice uint8, out *models.Outcome) string {
	head := fmt.Sprintf("You chose *%s*, the house chose *%s*.\n\n",
		label(rpsHands, int(playerChoice)), label(rpsHands, int(houseChoice)))
	switch out.Verdict {
	case models.VerdictWin:
		return head + fmt.Sprintf("You WON!\n\nYou've received %s ETH.", out.Payout.String())
	case models.VerdictDraw:
		return head + fmt.Sprintf("It's a DRAW. %s ETH has been returned.", out.Payout.String())
	}
	return head + "You lost.\nBetter luck next time!"
}

func numbersMessage(numbers []int) string {
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = fmt.Sprintf("*%d*", n)
	}
	return fmt.Sprintf("Here are your numbers!\n\n%s\n\nWhich one do you think is the lucky one? Just *type the number* you want to guess.",
		strings.Join(parts, "   "))
}

func guessOutcome(rec *models.GameRecord, won bool, winningNumber uint8, payout *big.Int) *models.Outcome {
	out := &models.Outcome{Verdict: models.VerdictLose, Payout: WeiToEther(payout)}
	if won {
		out.Verdict = models.VerdictWin
	}
	out.Detail = fmt.Sprintf("lucky number %d", winningNumber)
	if rec.GuessIndex >= 0 && rec.GuessIndex < len(rec.DrawnNumbers) {
		out.Detail += fmt.Sprintf(", guessed %d", rec.DrawnNumbers[rec.GuessIndex])
	}
	return out
}

func guessMessage(winningNumber uint8, out *models.Outcome) string {
	if out.Verdict == models.VerdictWin {
		return fmt.Sprintf("*%d* was the lucky number and you picked it! You WON!\n\nYou've received %s ETH.",
			winningNumber, out.Payout.String())
	}
	return fmt.Sprintf("The lucky number was *%d*.\n\nYou lost.\nBetter luck next time!", winningNumber)
}
