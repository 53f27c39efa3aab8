package classify

// DefaultSignals returns the default receipt detection signal table.
// Positive weights sum to 1.0 so an all-signals match scores exactly 1.
func DefaultSignals() []Signal {
	return []Signal{
		{
			Name:   "subject_keyword",
			Target: TargetSubject,
			Regex:  `\b(receipt|order|purchase|confirmation|invoice|payment)\b`,
			Weight: 0.30,
		},
		{
			Name:   "amount_present",
			Target: TargetAmounts,
			Weight: 0.25,
		},
		{
			Name:   "order_phrase",
			Target: TargetBody,
			Regex:  `thank you for (your|shopping)|payment (was )?received|we received your payment|order (is )?confirmed|your order has shipped`,
			Weight: 0.20,
		},
		{
			Name:   "date_amount_proximity",
			Target: TargetProximity,
			Weight: 0.15,
		},
		{
			Name:   "labeled_total",
			Target: TargetAmountLabel,
			Regex:  `^(grand total|order total|total( due| charged)?|amount (due|charged))$`,
			Weight: 0.10,
		},

		// Negative evidence: bulk mail markers push the score down.
		{
			Name:   "newsletter",
			Target: TargetBody,
			Regex:  `\b(unsubscribe|view (this email )?in (your )?browser|email preferences|manage (your )?subscriptions)\b`,
			Weight: -0.30,
		},
	}
}
