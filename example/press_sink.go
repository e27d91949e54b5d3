package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"switchkey"
)

func main() {
	// 1. 配置串口参数
	// 请根据实际情况修改串口设备名
	portName := "/dev/ttyACM0"
	baudRate := 115200
	if len(os.Args) > 1 {
		portName = os.Args[1]
	}

	fmt.Printf("Connecting to HID bridge on %s...\n", portName)

	// 2. 创建通知器实例
	notifier := switchkey.NewSerialNotifier(portName, baudRate)

	// 3. 打开连接
	if err := notifier.Open(); err != nil {
		log.Fatalf("Failed to open serial port: %v\n", err)
	}
	defer notifier.Close()

	if major, minor, err := notifier.Version(); err == nil {
		fmt.Printf("Bridge firmware %d.%d\n", major, minor)
	} else {
		log.Printf("Version query failed: %v\n", err)
	}

	fmt.Println("Connected. Press Enter to send a switch press, or type a number to send that many.")
	fmt.Println("Type 'exit' or 'quit' to stop.")

	// 4. 循环读取控制台输入
	var seq uint64
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		input := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if input == "exit" || input == "quit" {
			break
		}

		count := 1
		if input != "" {
			if _, err := fmt.Sscanf(input, "%d", &count); err != nil || count < 1 {
				fmt.Println("Expected a positive number.")
				continue
			}
		}

		for i := 0; i < count; i++ {
			seq++
			p := switchkey.Press{Seq: seq, Time: time.Now()}
			if err := notifier.Notify(p); err != nil {
				log.Printf("Error sending press #%d: %v\n", seq, err)
				break
			}
			fmt.Printf("Sent press #%d\n", seq)
			time.Sleep(50 * time.Millisecond)
		}
	}

	fmt.Println("Bye.")
}
