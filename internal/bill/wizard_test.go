package bill

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Wizard", func() {
	var store *Store

	BeforeEach(func() {
		store = NewStore()
	})

	// atItems puts the store on the items step with the given prices.
	atItems := func(prices ...string) []Item {
		items := make([]Item, 0, len(prices))
		for _, p := range prices {
			items = append(items, Item{Label: "", Price: p, Qty: 1})
		}
		return store.LoadItems(items)
	}

	Describe("upload to items", func() {
		It("should move on unconditionally", func() {
			Expect(store.Next()).To(Succeed())
			Expect(store.Step()).To(Equal(StepItems))
		})

		It("should move on when the scan is skipped", func() {
			store.SkipScan()

			state := store.State()
			Expect(state.Step).To(Equal(StepItems))
			Expect(state.Items).To(Equal([]Item{{ID: 1, Qty: 1}}))
		})
	})

	Describe("items to people", func() {
		When("no item has a positive price", func() {
			BeforeEach(func() {
				atItems("", "0,00", "abc")
			})

			It("should refuse and leave the state untouched", func() {
				before := store.State()

				err := store.Next()

				var verr *ValidationError
				Expect(errors.As(err, &verr)).To(BeTrue())
				Expect(verr.Step).To(Equal(StepItems))
				Expect(verr.Message).To(Equal(msgNeedPricedItem))
				Expect(store.State()).To(Equal(before))
			})
		})

		When("at least one item has a positive price", func() {
			var items []Item

			BeforeEach(func() {
				items = atItems("", "12,50", "0")
				_, err := store.UpdateItem(items[2].ID, ItemUpdate{Label: ptr("Отстъпка")})
				Expect(err).NotTo(HaveOccurred())
			})

			It("should advance and prune blank rows", func() {
				Expect(store.Next()).To(Succeed())

				state := store.State()
				Expect(state.Step).To(Equal(StepPeople))
				Expect(state.Items).To(HaveLen(2))
				Expect(state.Items[0].ID).To(Equal(items[1].ID))
				Expect(state.Items[1].Label).To(Equal("Отстъпка"))
			})
		})
	})

	Describe("people to assign", func() {
		BeforeEach(func() {
			atItems("5.00")
			Expect(store.Next()).To(Succeed())
		})

		It("should require a person", func() {
			err := store.Next()
			Expect(err).To(MatchError(msgNeedPerson))
			Expect(store.Step()).To(Equal(StepPeople))
		})

		It("should advance once someone is added", func() {
			_, err := store.AddPerson("Ана")
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Next()).To(Succeed())
			Expect(store.Step()).To(Equal(StepAssign))

			Expect(store.Next()).To(Succeed())
			Expect(store.Step()).To(Equal(StepSummary))

			Expect(store.Next()).To(Succeed())
			Expect(store.Step()).To(Equal(StepSummary))
		})
	})

	Describe("Back", func() {
		It("should do nothing at the first step", func() {
			Expect(store.Back()).To(Succeed())
			Expect(store.Step()).To(Equal(StepUpload))
		})

		It("should always be allowed", func() {
			atItems("")
			Expect(store.Back()).To(Succeed())
			Expect(store.Step()).To(Equal(StepUpload))
		})
	})

	Describe("GoTo", func() {
		BeforeEach(func() {
			atItems("5.00")
			store.AddPerson("Ана")
			Expect(store.Next()).To(Succeed())
			Expect(store.Next()).To(Succeed())
			Expect(store.Step()).To(Equal(StepAssign))
		})

		It("should jump back freely", func() {
			Expect(store.GoTo(StepUpload)).To(Succeed())
			Expect(store.Step()).To(Equal(StepUpload))
		})

		It("should return forward to a step already reached", func() {
			Expect(store.GoTo(StepItems)).To(Succeed())
			Expect(store.GoTo(StepAssign)).To(Succeed())
			Expect(store.Step()).To(Equal(StepAssign))
		})

		It("should not skip ahead of the furthest step", func() {
			Expect(store.GoTo(StepSummary)).To(MatchError(ErrStepNotReached))
			Expect(store.Step()).To(Equal(StepAssign))
		})

		It("should run every gate on the way", func() {
			Expect(store.GoTo(StepItems)).To(Succeed())
			people := store.State().People
			Expect(store.RemovePerson(people[0].ID)).To(Succeed())

			err := store.GoTo(StepAssign)

			Expect(err).To(MatchError(msgNeedPerson))
			Expect(store.Step()).To(Equal(StepItems))
		})

		It("should reject unknown steps", func() {
			Expect(store.GoTo(Step("checkout"))).To(MatchError(ErrUnknownStep))
		})

		It("should remember the furthest step", func() {
			Expect(store.GoTo(StepUpload)).To(Succeed())
			Expect(store.State().Furthest).To(Equal(StepAssign))
		})
	})

	Describe("Advance and GoBack", func() {
		BeforeEach(func() {
			atItems("5.00")
			store.AddPerson("Ана")
			Expect(store.Advance(StepPeople)).To(Succeed())
			Expect(store.Advance(StepAssign)).To(Succeed())
		})

		It("should go back and return to the furthest step", func() {
			Expect(store.GoBack(StepItems)).To(Succeed())
			Expect(store.Step()).To(Equal(StepItems))

			Expect(store.Advance(StepAssign)).To(Succeed())
			Expect(store.Step()).To(Equal(StepAssign))
		})

		It("should stay put on the current step", func() {
			Expect(store.GoBack(StepAssign)).To(Succeed())
			Expect(store.Advance(StepAssign)).To(Succeed())
			Expect(store.Step()).To(Equal(StepAssign))
		})

		It("should refuse to advance to an earlier step", func() {
			Expect(store.Advance(StepItems)).To(MatchError(ErrStepBehind))
			Expect(store.Step()).To(Equal(StepAssign))
		})

		It("should refuse to go back to a later step", func() {
			Expect(store.GoBack(StepItems)).To(Succeed())
			Expect(store.GoBack(StepPeople)).To(MatchError(ErrStepNotReached))
			Expect(store.Step()).To(Equal(StepItems))
		})

		It("should refuse to advance past the furthest step", func() {
			Expect(store.Advance(StepSummary)).To(MatchError(ErrStepNotReached))
		})

		It("should surface a failing gate", func() {
			Expect(store.GoBack(StepItems)).To(Succeed())
			Expect(store.RemovePerson(store.State().People[0].ID)).To(Succeed())

			var verr *ValidationError
			Expect(errors.As(store.Advance(StepAssign), &verr)).To(BeTrue())
			Expect(verr.Step).To(Equal(StepPeople))
			Expect(store.Step()).To(Equal(StepItems))
		})
	})
})
