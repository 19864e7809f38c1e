// Package seed fills an empty desk with sample conversations.
package seed

import (
	"context"
	"fmt"
	"log"
	"math/rand"

	"github.com/refset/support-desk/internal/model"
	"github.com/refset/support-desk/internal/service"
)

type sample struct {
	Name    string
	Email   string
	Subject string
	Body    string
	Reply   string
}

var samples = []sample{
	{
		Name:    "Morgan Reyes",
		Email:   "morgan.reyes@example.com",
		Subject: "Cancel my subscription immediately",
		Body:    "I've been trying to cancel for weeks and nobody responds. I want a full refund.",
		Reply:   "Sorry for the wait. I've cancelled the subscription and started the refund.",
	},
	{
		Name:    "Priya Natarajan",
		Email:   "priya.n@example.com",
		Subject: "Question about billing",
		Body:    "I noticed a charge on my account that I don't recognize. Could you help me understand what it's for?",
		Reply:   "That charge is the annual renewal. I've attached the invoice.",
	},
	{
		Name:    "Sam Okafor",
		Email:   "sam@okafor.example",
		Subject: "URGENT: System down",
		Body:    "Our production system is completely down! We need immediate assistance.",
	},
	{
		Name:    "Lena Fischer",
		Email:   "lena.fischer@example.com",
		Subject: "Great experience - thank you!",
		Body:    "Just wanted to say thanks for the excellent support yesterday. The issue was resolved quickly.",
		Reply:   "Thanks Lena, we'll pass this on to the team!",
	},
	{
		Name:    "Jordan Blake",
		Email:   "jblake@example.com",
		Subject: "Feature request",
		Body:    "Would you consider adding **dark mode**? Many of us work late.",
	},
	{
		Name:    "Chen Wei",
		Email:   "chen.wei@example.com",
		Subject: "Disappointed with recent changes",
		Body:    "The recent update made the app much slower. Please fix the performance issues.",
		Reply:   "We've reproduced the slowdown and a fix ships this week.",
	},
	{
		Name:    "Amara Diallo",
		Email:   "amara.d@example.com",
		Subject: "Account access issue",
		Body:    "I can't log into my account. Resetting my password hasn't helped.",
	},
	{
		Name:    "Tomás Silva",
		Email:   "tomas.silva@example.com",
		Subject: "Refund request",
		Body:    "I'd like a refund for my last purchase. It didn't meet my expectations.",
		Reply:   "Refund approved, it should appear within 5 business days.",
	},
}

// Run creates count tickets drawn from the samples. Tickets with a canned
// reply get it from adminName and a random status.
func Run(ctx context.Context, tickets *service.Tickets, messages *service.Messages, adminName string, count int, rng *rand.Rand) ([]model.Ticket, error) {
	created := make([]model.Ticket, 0, count)
	for i := 0; i < count; i++ {
		s := samples[rng.Intn(len(samples))]
		ticket, err := tickets.Create(ctx, service.CreateTicket{
			CustomerName:   s.Name,
			CustomerEmail:  s.Email,
			Subject:        s.Subject,
			InitialMessage: s.Body,
		})
		if err != nil {
			return created, fmt.Errorf("seed ticket %d: %w", i+1, err)
		}

		if s.Reply != "" {
			if _, err := messages.Send(ctx, service.SendMessage{
				TicketID:   ticket.ID,
				Content:    s.Reply,
				SenderType: model.SenderAdmin,
				SenderName: adminName,
			}); err != nil {
				return created, fmt.Errorf("seed reply %d: %w", i+1, err)
			}
			status := model.Statuses[rng.Intn(len(model.Statuses))]
			if err := tickets.UpdateStatus(ctx, ticket.ID, status); err != nil {
				return created, fmt.Errorf("seed status %d: %w", i+1, err)
			}
			ticket.Status = status
		}

		log.Printf("Seeded ticket #%s: %s (%s)", model.ShortID(ticket.ID), s.Subject, ticket.Status)
		created = append(created, ticket)
	}
	return created, nil
}
