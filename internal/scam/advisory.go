package scam

import "strings"

// Advisory builds the warning shown to the user instead of a model answer.
// It returns "" when the result is not a scam. The closing report sentence is
// only included when flagged messages actually go to the security team.
func Advisory(r Result, reported bool) string {
	if !r.IsScam {
		return ""
	}
	main, _ := r.MainIssue()

	var b strings.Builder
	b.WriteString("⚠️ **Scam Alert!** I've detected potential scam indicators in this message. \n\n")

	switch main.Type {
	case FinancialScam:
		b.WriteString("🚩 **Financial Scam Detected**\n")
		b.WriteString("This appears to be a financial scam. Never send money to claim prizes or winnings. ")
		b.WriteString("Legitimate organizations will never ask you to pay fees to receive money you've won.\n\n")
	case PaymentRequest:
		b.WriteString("💸 **Suspicious Payment Request**\n")
		b.WriteString("Be cautious! This message is asking for money, which is a common scam tactic. ")
		b.WriteString("Never transfer money to someone you don't know personally.\n\n")
	case UrgencyTactic:
		b.WriteString("⏰ **False Urgency Detected**\n")
		b.WriteString("Scammers often create a false sense of urgency to pressure you into acting without thinking. ")
		b.WriteString("Take your time to verify any claims before taking action.\n\n")
	case InformationHarvesting:
		b.WriteString("🔒 **Personal Information Theft Attempt**\n")
		b.WriteString("This seems like an attempt to steal personal information. ")
		b.WriteString("Never share sensitive details like passwords, SSN, or credit card information through unsecured channels.\n\n")
	default:
		b.WriteString("⚠️ **Suspicious Activity Detected**\n")
		b.WriteString("This message contains characteristics commonly found in scams. ")
		b.WriteString("Please be extremely cautious.\n\n")
	}

	b.WriteString("**What you should do now:**\n")
	b.WriteString("• Do not send any money or provide personal information\n")
	b.WriteString("• Verify the information through official channels\n")
	b.WriteString("• Report suspicious messages to the appropriate authorities")
	if reported {
		b.WriteString("\n\nThis message has been flagged to our security team for further investigation.")
	}
	return b.String()
}
