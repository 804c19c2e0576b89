package idempotency

import (
	"context"
	"fmt"
	"time"
)

func ExampleManager_Claim() {
	ctx := context.Background()
	manager, _ := NewManager(newFakeStore(), 7*24*time.Hour)
	eventID := "f47ac10b-58cc-4372-a567-0e02b2c3d479"

	first, _ := manager.Claim(ctx, "payslip-delivery", eventID)
	second, _ := manager.Claim(ctx, "payslip-delivery", eventID)
	_ = manager.Release(ctx, "payslip-delivery", eventID)
	third, _ := manager.Claim(ctx, "payslip-delivery", eventID)
	_ = manager.Complete(ctx, "payslip-delivery", eventID)
	done, _ := manager.Completed(ctx, "payslip-delivery", eventID)

	fmt.Println(first, second, third, done)
	// Output:
	// true false true true
}
