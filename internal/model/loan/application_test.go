package loan

import (
	"errors"
	"testing"
)

func completeFields() map[string]string {
	return map[string]string{
		FieldName:            "Jane Doe",
		FieldPhone:           "+1 555 0100",
		FieldEmail:           "jane@example.com",
		FieldAddress:         "1 Main St",
		FieldAge:             "34",
		FieldEmployer:        "Acme",
		FieldPosition:        "Engineer",
		FieldMonthlyIncome:   "$8,500",
		FieldLoanAmount:      "$200,000",
		FieldLoanPurpose:     "home purchase",
		FieldLoanTerm:        "15 years",
		FieldPropertyAddress: "2 Oak Ave",
		FieldPropertySize:    "120 sqm",
		FieldLoanStartDate:   "2026-12-01",
	}
}

func TestBuildRecordParsesTypedFields(t *testing.T) {
	rec, err := BuildRecord(completeFields())
	if err != nil {
		t.Fatalf("BuildRecord err: %v", err)
	}
	if rec.Name != "Jane Doe" {
		t.Fatalf("unexpected name %q", rec.Name)
	}
	if rec.LoanAmount != 200000 {
		t.Fatalf("unexpected loan amount %v", rec.LoanAmount)
	}
	if rec.LoanTermMonths != 180 {
		t.Fatalf("expected 180 months, got %d", rec.LoanTermMonths)
	}
	if rec.Age != 34 || rec.PropertySize != 120 || rec.MonthlyIncome != 8500 {
		t.Fatalf("unexpected numeric fields: %+v", rec)
	}
}

func TestBuildRecordReportsMissingAndInvalid(t *testing.T) {
	fields := completeFields()
	delete(fields, FieldEmployer)
	fields[FieldLoanAmount] = "a lot"

	_, err := BuildRecord(fields)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Missing) != 1 || verr.Missing[0] != FieldEmployer {
		t.Fatalf("unexpected missing fields: %v", verr.Missing)
	}
	if len(verr.Invalid) != 1 || verr.Invalid[0] != FieldLoanAmount {
		t.Fatalf("unexpected invalid fields: %v", verr.Invalid)
	}
}

func TestRecordFieldsRoundTrip(t *testing.T) {
	rec, err := BuildRecord(completeFields())
	if err != nil {
		t.Fatalf("BuildRecord err: %v", err)
	}
	again, err := BuildRecord(rec.Fields())
	if err != nil {
		t.Fatalf("rebuild err: %v", err)
	}
	if again != rec {
		t.Fatalf("record changed after rebuild:\n%+v\n%+v", rec, again)
	}
}

func TestParseAmountVariants(t *testing.T) {
	cases := map[string]float64{
		"$200,000":  200000,
		"200k":      200000,
		"20万":       200000,
		"1.5m":      1500000,
		"8500 USD":  8500,
		"￥12,000 元": 12000,
	}
	for raw, want := range cases {
		got, err := ParseAmount(raw)
		if err != nil {
			t.Fatalf("ParseAmount(%q) err: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseAmount(%q) = %v, want %v", raw, got, want)
		}
	}
	if _, err := ParseAmount("-5"); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestParseTermMonths(t *testing.T) {
	cases := map[string]int{"15 years": 180, "180 months": 180, "240": 240, "30年": 360}
	for raw, want := range cases {
		got, err := ParseTermMonths(raw)
		if err != nil || got != want {
			t.Fatalf("ParseTermMonths(%q) = %d, %v; want %d", raw, got, err, want)
		}
	}
}

func TestPhaseOrdering(t *testing.T) {
	if !PhaseCollecting.CanMoveTo(PhaseCollected) {
		t.Fatal("collecting -> collected must be allowed")
	}
	if !PhaseEvaluating.CanMoveTo(PhaseCollected) {
		t.Fatal("evaluating -> collected shares a rank and must be allowed")
	}
	if PhaseComplete.CanMoveTo(PhaseCollected) {
		t.Fatal("complete -> collected must be rejected")
	}
	if PhaseCollected.CanMoveTo(PhaseCollecting) {
		t.Fatal("collected -> collecting must be rejected")
	}
	if PhaseCollecting.CanMoveTo(Phase("bogus")) {
		t.Fatal("unknown phase must be rejected")
	}
}
