package billing

import (
	"strings"
)

// Locale selects the language of generated texts.
type Locale string

const (
	LocaleDE Locale = "de"
	LocaleEN Locale = "en"
)

// ParseLocale maps a free-form language code ("de", "en-GB", "DE") to a
// supported locale. Unknown codes fall back to German.
func ParseLocale(s string) Locale {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(s, "en") {
		return LocaleEN
	}
	return LocaleDE
}

// LanguageCode is the tag the invoicing system expects.
func (l Locale) LanguageCode() string {
	if l == LocaleEN {
		return "en-DE"
	}
	return "de-DE"
}

// =============================================================================
// TRANSLATION KEYS
// =============================================================================

type TextKey string

const (
	TextPerformancePeriod TextKey = "PERFORMANCE_PERIOD"
	TextAdditionalNotes   TextKey = "ADDITIONAL_NOTES"
	TextProject           TextKey = "PROJECT"
	TextProjects          TextKey = "PROJECTS"
	TextInvoiceSubject    TextKey = "INVOICE_SUBJECT"
	TextInvoiceMessage    TextKey = "INVOICE_MESSAGE"
	TextHours             TextKey = "HOURS"
	TextInvoiceTitle      TextKey = "INVOICE_TITLE"
	TextPaymentTerm       TextKey = "PAYMENT_TERM"

	TextTimesheet           TextKey = "TIMESHEET"
	TextClient              TextKey = "CLIENT"
	TextFrom                TextKey = "FROM"
	TextTo                  TextKey = "TO"
	TextProvider            TextKey = "PROVIDER"
	TextServiceLevel        TextKey = "SERVICE_LEVEL"
	TextServiceLevelDefault TextKey = "SERVICE_LEVEL_DEFAULT"
	TextDate                TextKey = "DATE"
	TextDescription         TextKey = "DESCRIPTION"
	TextLocation            TextKey = "LOCATION"
	TextStart               TextKey = "START"
	TextEnd                 TextKey = "END"
	TextPause               TextKey = "PAUSE"
	TextTotalTimeWorked     TextKey = "TOTAL_TIME_WORKED"
	TextSum                 TextKey = "SUM"
	TextOnsite              TextKey = "ONSITE"
	TextOffsite             TextKey = "OFFSITE"
)

// Placeholders in the form {{name}} are filled by Translate. The
// {{company name}} style placeholders of the mail texts are left for the
// invoicing system to fill.
var translations = map[Locale]map[TextKey]string{
	LocaleEN: {
		TextPerformancePeriod: "Performance period {{from}} - {{to}}",
		TextAdditionalNotes:   "Additional work will be charged at an hourly rate of {{netUnitSalesPrice}}€ (net).",
		TextProject:           "Project: {{projects}}",
		TextProjects:          "Projects: {{projects}}",
		TextInvoiceSubject:    "Invoice No $[NUMBER] from {{company name}}",
		TextInvoiceMessage:    "Hello,\n \nclick the button below to display the invoice from {{customer name}} for {{currency}} {{total amount}}. Attached you can find a PDF copy of the invoice.\n \nBest regards\n{{user name}}",
		TextHours:             "hours",
		TextInvoiceTitle:      "Invoice",
		TextPaymentTerm:       "Payable within {{paymentRange}} days",

		TextTimesheet:           "Timesheet",
		TextClient:              "Client",
		TextFrom:                "From",
		TextTo:                  "To",
		TextProvider:            "Provider",
		TextServiceLevel:        "Service level",
		TextServiceLevelDefault: "Time and material",
		TextDate:                "Date",
		TextDescription:         "Description",
		TextLocation:            "Location",
		TextStart:               "Start",
		TextEnd:                 "End",
		TextPause:               "Pause",
		TextTotalTimeWorked:     "Total time worked",
		TextSum:                 "Sum",
		TextOnsite:              "Onsite",
		TextOffsite:             "Offsite",
	},
	LocaleDE: {
		TextPerformancePeriod: "Leistungszeitraum {{from}} - {{to}}",
		TextAdditionalNotes:   "Zusätzlich anfallende Arbeiten werden zu einem Stundensatz von {{netUnitSalesPrice}}€ (Netto) verrechnet.",
		TextProject:           "Projekt: {{projects}}",
		TextProjects:          "Projekte: {{projects}}",
		TextInvoiceSubject:    "Rechnung Nr. $[NUMBER] von {{company name}}",
		TextInvoiceMessage:    "Guten Tag,\n \nklicken Sie auf die unten angezeigte Schaltfläche, um die Rechnung an {{customer name}} über {{currency}} {{total amount}} anzeigen zu lassen. Im Anhang befindet sich außerdem eine PDF-Kopie der Rechnung.\n \nViele Grüße\n{{user name}}",
		TextHours:             "Stunden",
		TextInvoiceTitle:      "Rechnung",
		TextPaymentTerm:       "Zahlbar innerhalb von {{paymentRange}} Tagen",

		TextTimesheet:           "Stundennachweis",
		TextClient:              "Kunde",
		TextFrom:                "Von",
		TextTo:                  "Bis",
		TextProvider:            "Dienstleister",
		TextServiceLevel:        "Leistungsart",
		TextServiceLevelDefault: "Nach Aufwand",
		TextDate:                "Datum",
		TextDescription:         "Beschreibung",
		TextLocation:            "Ort",
		TextStart:               "Beginn",
		TextEnd:                 "Ende",
		TextPause:               "Pause",
		TextTotalTimeWorked:     "Arbeitszeit",
		TextSum:                 "Summe",
		TextOnsite:              "Vor Ort",
		TextOffsite:             "Remote",
	},
}

// Translate looks up key for the locale and fills {{name}} placeholders
// from params. Missing keys yield the key itself.
func Translate(l Locale, key TextKey, params map[string]string) string {
	text, ok := translations[l][key]
	if !ok {
		text, ok = translations[LocaleDE][key]
	}
	if !ok {
		return string(key)
	}
	for name, value := range params {
		text = strings.ReplaceAll(text, "{{"+name+"}}", value)
	}
	return text
}
