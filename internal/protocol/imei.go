package protocol

import "fmt"

// IMEICheckDigit 计算 14 位 IMEI 主体的校验位。
// 奇数下标（从 0 开始）的数字乘 2，大于 9 减 9，全部求和后取 (10 - sum%10) % 10。
func IMEICheckDigit(body string) (int, error) {
	if len(body) != 14 {
		return 0, fmt.Errorf("%w: want 14 digits, got %d", ErrInvalidIMEI, len(body))
	}
	if body[0] == '0' || body[13] == '0' {
		return 0, fmt.Errorf("%w: leading or trailing zero", ErrInvalidIMEI)
	}

	sum := 0
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: non-digit %q", ErrInvalidIMEI, c)
		}
		d := int(c - '0')
		if i%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return (10 - sum%10) % 10, nil
}

// CompleteIMEI 返回追加校验位后的 15 位 IMEI
func CompleteIMEI(body string) (string, error) {
	d, err := IMEICheckDigit(body)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d", body, d), nil
}
