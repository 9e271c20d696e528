package notify

import (
	"fmt"
	"strings"
)

const (
	KindReplyConfirmation = "reply_confirmation"
	KindAwardRequester    = "award_requester"
	KindAwardVendor       = "award_vendor"
)

// ReplyConfirmation письмо поставщику о принятом ответе
func ReplyConfirmation(rfqID, to, vendorName, total string, items int, folderLink string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", vendorName)
	fmt.Fprintf(&b, "We have received your quote for RFQ %s.\n", rfqID)
	fmt.Fprintf(&b, "Items quoted: %d\nTotal: %s\n", items, total)
	if folderLink != "" {
		fmt.Fprintf(&b, "Attachments: %s\n", folderLink)
	}
	b.WriteString("\nThank you.\n")
	return Message{
		Kind:    KindReplyConfirmation,
		RFQID:   rfqID,
		To:      to,
		Subject: fmt.Sprintf("Quote received for RFQ %s", rfqID),
		Body:    b.String(),
	}
}

// AwardRequester письмо заказчику о выбранном поставщике
func AwardRequester(rfqID, to, itemName, vendorName string, updated int) Message {
	return Message{
		Kind:    KindAwardRequester,
		RFQID:   rfqID,
		To:      to,
		Subject: fmt.Sprintf("RFQ %s: %s awarded to %s", rfqID, itemName, vendorName),
		Body: fmt.Sprintf("Item %q of RFQ %s was awarded to %s.\nReplies updated: %d\n",
			itemName, rfqID, vendorName, updated),
	}
}

// AwardVendor письмо поставщику-победителю
func AwardVendor(rfqID, to, itemName, vendorName string) Message {
	return Message{
		Kind:    KindAwardVendor,
		RFQID:   rfqID,
		To:      to,
		Subject: fmt.Sprintf("You have been awarded %s (RFQ %s)", itemName, rfqID),
		Body: fmt.Sprintf("Hello %s,\n\nYour quote for %q in RFQ %s has been accepted.\nWe will contact you with the purchase order.\n",
			vendorName, itemName, rfqID),
	}
}
